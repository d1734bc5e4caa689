package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Repository persists escrow balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, escrow *models.EscrowTransaction) error
	FindBySubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error)
	LockBySubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	CountOpenReturns(ctx context.Context, subOrderID uuid.UUID) (int64, error)
	CountUnsettledRefunds(ctx context.Context, subOrderID uuid.UUID) (int64, error)
	ListReleaseCandidates(ctx context.Context, deliveredBefore time.Time, limit int) ([]uuid.UUID, error)
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

func (r *repository) Create(ctx context.Context, escrow *models.EscrowTransaction) error {
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *repository) FindBySubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error) {
	var escrow models.EscrowTransaction
	if err := r.db.WithContext(ctx).First(&escrow, "sub_order_id = ?", subOrderID).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *repository) LockBySubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error) {
	var escrow models.EscrowTransaction
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&escrow, "sub_order_id = ?", subOrderID).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.EscrowTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) CountOpenReturns(ctx context.Context, subOrderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("sub_order_id = ? AND status IN ?", subOrderID, openReturnStatuses()).
		Count(&n).Error
	return n, err
}

// CountUnsettledRefunds counts refunds recorded against the sub-order that the
// provider has not settled yet.
func (r *repository) CountUnsettledRefunds(ctx context.Context, subOrderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("sub_order_id = ? AND status = ? AND applied_at IS NULL", subOrderID, enums.RefundStatusPending).
		Count(&n).Error
	return n, err
}

// ListReleaseCandidates returns sub-orders whose escrow may be released:
// delivered before the cutoff, funded, not on hold, with no open return and
// no refund still settling.
func (r *repository) ListReleaseCandidates(ctx context.Context, deliveredBefore time.Time, limit int) ([]uuid.UUID, error) {
	openReturns := r.db.Model(&models.ReturnRequest{}).
		Select("1").
		Where("return_requests.sub_order_id = escrow_transactions.sub_order_id").
		Where("return_requests.status IN ?", openReturnStatuses())
	unsettled := r.db.Model(&models.Refund{}).
		Select("1").
		Where("refunds.sub_order_id = escrow_transactions.sub_order_id").
		Where("refunds.status = ? AND refunds.applied_at IS NULL", enums.RefundStatusPending)

	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.EscrowTransaction{}).
		Joins("JOIN seller_sub_orders ON seller_sub_orders.id = escrow_transactions.sub_order_id").
		Where("seller_sub_orders.status = ?", enums.SubOrderStatusDelivered).
		Where("seller_sub_orders.delivered_at <= ?", deliveredBefore).
		Where("escrow_transactions.status IN ?", []enums.EscrowStatus{enums.EscrowStatusHeld, enums.EscrowStatusPartiallyRefunded}).
		Where("escrow_transactions.on_hold = ?", false).
		Where("NOT EXISTS (?)", openReturns).
		Where("NOT EXISTS (?)", unsettled).
		Order("seller_sub_orders.delivered_at ASC").
		Limit(limit).
		Pluck("escrow_transactions.sub_order_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func openReturnStatuses() []enums.ReturnStatus {
	return []enums.ReturnStatus{enums.ReturnStatusRequested, enums.ReturnStatusApproved, enums.ReturnStatusReceived}
}
