package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Repository is append-only: ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	TotalsByStore(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]TypeTotal, error)
}

// TypeTotal sums one movement type in one currency.
type TypeTotal struct {
	Type        enums.LedgerEventType `json:"type"`
	Currency    string                `json:"currency"`
	Count       int64                 `json:"count"`
	AmountCents int64                 `json:"amount_cents"`
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

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// TotalsByStore aggregates a store's movements in [from, to).
func (r *repository) TotalsByStore(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]TypeTotal, error) {
	var totals []TypeTotal
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Select("type, currency, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS amount_cents").
		Where("store_id = ? AND created_at >= ? AND created_at < ?", storeID, from, to).
		Group("type, currency").
		Order("type ASC, currency ASC").
		Scan(&totals).Error
	return totals, err
}
