package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.PaymentTransaction) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	LockByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.PaymentTransaction, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListStale(ctx context.Context, statuses []enums.PaymentStatus, before time.Time, limit int) ([]uuid.UUID, error)

	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	LockRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindRefundByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Refund, error)
	UpdateRefund(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SumPendingRefunds(ctx context.Context, subOrderID uuid.UUID) (int64, error)
	ListRefunds(ctx context.Context, subOrderID uuid.UUID) ([]models.Refund, error)
	ListUnsettledCancellationRefunds(ctx context.Context, before time.Time, maxAttempts, limit int) ([]uuid.UUID, error)

	CreateEvent(ctx context.Context, event *models.PaymentEvent) error
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

func (r *repository) Create(ctx context.Context, payment *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).First(&payment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, "order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, ref).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListStale returns order ids whose payment has sat in one of statuses since
// before the cutoff.
func (r *repository) ListStale(ctx context.Context, statuses []enums.PaymentStatus, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("status IN ? AND created_at <= ?", statuses, before).
		Order("created_at ASC").
		Limit(limit).
		Pluck("order_id", &ids).Error
	return ids, err
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) LockRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&refund, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) FindRefundByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, ref).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) UpdateRefund(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SumPendingRefunds totals refunds sent to the provider but not yet applied
// to the escrow.
func (r *repository) SumPendingRefunds(ctx context.Context, subOrderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("sub_order_id = ? AND status = ? AND applied_at IS NULL", subOrderID, enums.RefundStatusPending).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) ListRefunds(ctx context.Context, subOrderID uuid.UUID) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("sub_order_id = ?", subOrderID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

// ListUnsettledCancellationRefunds returns cancellation refunds still owed
// to the buyer, oldest first.
func (r *repository) ListUnsettledCancellationRefunds(ctx context.Context, before time.Time, maxAttempts, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("status = ? AND applied_at IS NULL AND return_id IS NULL", enums.RefundStatusPending).
		Where("created_at <= ? AND attempts < ?", before, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) CreateEvent(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
