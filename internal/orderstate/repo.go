package orderstate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Repository loads and updates the order aggregate. Other modules reach
// orders and sub-orders through it so status rules stay in one place.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SellerSubOrder, error)
	LockSubOrder(ctx context.Context, id uuid.UUID) (*models.SellerSubOrder, error)
	UpdateSubOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SaveItems(ctx context.Context, items []models.OrderItem) error
	ListSubOrderStatuses(ctx context.Context, orderID uuid.UUID) ([]enums.SubOrderStatus, error)
	FindPaymentStatus(ctx context.Context, orderID uuid.UUID) (enums.PaymentStatus, error)
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

func (r *repository) orderQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("SubOrders.Items").
		Preload("SubOrders.Escrow").
		Preload("Payment")
}

func (r *repository) subOrderQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items").
		Preload("Shipments").
		Preload("Shipments.Items").
		Preload("Escrow")
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.orderQuery(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder takes a row lock on the order so concurrent sub-order
// transitions on the same order serialise.
func (r *repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.orderQuery(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SellerSubOrder, error) {
	var sub models.SellerSubOrder
	if err := r.subOrderQuery(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) LockSubOrder(ctx context.Context, id uuid.UUID) (*models.SellerSubOrder, error) {
	var sub models.SellerSubOrder
	if err := r.subOrderQuery(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateSubOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.SellerSubOrder{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) SaveItems(ctx context.Context, items []models.OrderItem) error {
	for i := range items {
		item := items[i]
		if err := r.db.WithContext(ctx).
			Model(&models.OrderItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{
				"shipped_qty":   item.ShippedQty,
				"delivered_qty": item.DeliveredQty,
				"cancelled_qty": item.CancelledQty,
				"returned_qty":  item.ReturnedQty,
				"status":        item.Status,
				"updated_at":    time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) ListSubOrderStatuses(ctx context.Context, orderID uuid.UUID) ([]enums.SubOrderStatus, error) {
	var statuses []enums.SubOrderStatus
	if err := r.db.WithContext(ctx).
		Model(&models.SellerSubOrder{}).
		Where("order_id = ?", orderID).
		Pluck("status", &statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

func (r *repository) FindPaymentStatus(ctx context.Context, orderID uuid.UUID) (enums.PaymentStatus, error) {
	var payment models.PaymentTransaction
	err := r.db.WithContext(ctx).Select("status").First(&payment, "order_id = ?", orderID).Error
	if err != nil {
		return "", err
	}
	return payment.Status, nil
}
