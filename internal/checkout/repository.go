package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
)

// Repository writes the order aggregate produced by a checkout.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateSubOrder(ctx context.Context, sub *models.SellerSubOrder) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	NumberTaken(ctx context.Context, number string) (bool, error)
	FindOrderIDByCart(ctx context.Context, cartID uuid.UUID) (*uuid.UUID, error)
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

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("SubOrders", "Payment").Create(order).Error
}

func (r *repository) CreateSubOrder(ctx context.Context, sub *models.SellerSubOrder) error {
	return r.db.WithContext(ctx).Omit("Items", "Shipments", "Escrow").Create(sub).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) NumberTaken(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).Where("number = ?", number).Count(&count).Error
	return count > 0, err
}

// FindOrderIDByCart returns the order a cart was converted into, if any.
func (r *repository) FindOrderIDByCart(ctx context.Context, cartID uuid.UUID) (*uuid.UUID, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Select("id").Where("cart_id = ?", cartID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order.ID, nil
}
