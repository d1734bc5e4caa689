package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

// Filter narrows ListPayouts.
type Filter struct {
	StoreID *uuid.UUID
	Status  *enums.PayoutStatus
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSchedule(ctx context.Context, storeID uuid.UUID) (*models.PayoutSchedule, error)
	LockSchedule(ctx context.Context, id uuid.UUID) (*models.PayoutSchedule, error)
	CreateSchedule(ctx context.Context, schedule *models.PayoutSchedule) error
	UpdateSchedule(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
	LockUnpaidEscrows(ctx context.Context, storeID uuid.UUID) ([]models.EscrowTransaction, error)
	CreatePayout(ctx context.Context, payout *models.Payout) error
	LinkEscrows(ctx context.Context, payoutID uuid.UUID, escrowIDs []uuid.UUID) error
	UnlinkEscrows(ctx context.Context, payoutID uuid.UUID) error
	FindPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	LockPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPayouts(ctx context.Context, filter Filter, params pagination.Params) ([]models.Payout, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSchedule(ctx context.Context, storeID uuid.UUID) (*models.PayoutSchedule, error) {
	var schedule models.PayoutSchedule
	if err := r.db.WithContext(ctx).First(&schedule, "store_id = ?", storeID).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *repository) LockSchedule(ctx context.Context, id uuid.UUID) (*models.PayoutSchedule, error) {
	var schedule models.PayoutSchedule
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&schedule, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *repository) CreateSchedule(ctx context.Context, schedule *models.PayoutSchedule) error {
	return r.db.WithContext(ctx).Create(schedule).Error
}

func (r *repository) UpdateSchedule(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.PayoutSchedule{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.PayoutSchedule{}).
		Where("active = ? AND next_run_at <= ?", true, now.UTC()).
		Order("next_run_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// LockUnpaidEscrows returns released escrows not yet attached to a payout.
func (r *repository) LockUnpaidEscrows(ctx context.Context, storeID uuid.UUID) ([]models.EscrowTransaction, error) {
	var rows []models.EscrowTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND status = ? AND payout_id IS NULL", storeID, enums.EscrowStatusReleased).
		Order("released_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Omit("Escrows").Create(payout).Error
}

func (r *repository) LinkEscrows(ctx context.Context, payoutID uuid.UUID, escrowIDs []uuid.UUID) error {
	if len(escrowIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.EscrowTransaction{}).
		Where("id IN ? AND payout_id IS NULL", escrowIDs).
		Updates(map[string]any{"payout_id": payoutID, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) UnlinkEscrows(ctx context.Context, payoutID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.EscrowTransaction{}).
		Where("payout_id = ?", payoutID).
		Updates(map[string]any{"payout_id": nil, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) FindPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Preload("Escrows").First(&payout, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) LockPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) ListPayouts(ctx context.Context, filter Filter, params pagination.Params) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{})
	if filter.StoreID != nil {
		query = query.Where("store_id = ?", *filter.StoreID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.Payout
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
