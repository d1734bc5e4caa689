package orders

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

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	BuyerUserID *uuid.UUID
	Status      *enums.OrderStatus
}

// SubOrderFilter narrows ListSubOrders.
type SubOrderFilter struct {
	StoreID *uuid.UUID
	Status  *enums.SubOrderStatus
}

// Repository covers the listing and shipment queries fulfillment needs on
// top of the orderstate repository.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListOrders(ctx context.Context, filter OrderFilter, params pagination.Params) ([]models.Order, error)
	ListSubOrders(ctx context.Context, filter SubOrderFilter, params pagination.Params) ([]models.SellerSubOrder, error)
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	LockShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	UpdateShipment(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListExpiredAcceptance(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListOrders(ctx context.Context, filter OrderFilter, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Payment")
	if filter.BuyerUserID != nil {
		query = query.Where("buyer_user_id = ?", *filter.BuyerUserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListSubOrders(ctx context.Context, filter SubOrderFilter, params pagination.Params) ([]models.SellerSubOrder, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SellerSubOrder{}).
		Preload("Items").
		Preload("Escrow")
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
	var rows []models.SellerSubOrder
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) LockShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Items").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&shipment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) UpdateShipment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Shipment{}).Where("id = ?", id).Updates(updates).Error
}

// ListExpiredAcceptance returns sub-orders sellers never answered.
func (r *repository) ListExpiredAcceptance(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.SellerSubOrder{}).
		Where("status = ? AND accept_deadline IS NOT NULL AND accept_deadline <= ?", enums.SubOrderStatusAwaitingAcceptance, now.UTC()).
		Order("accept_deadline ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
