package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Repository defines the persistence surface required by the cart service
// and by checkout.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActive(ctx context.Context, owner Owner) (*models.Cart, error)
	LockActive(ctx context.Context, owner Owner) (*models.Cart, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	SaveItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	MarkConverted(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) withItems(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") })
}

func ownerScope(owner Owner) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if owner.UserID != nil {
			return db.Where("user_id = ?", *owner.UserID)
		}
		return db.Where("user_id IS NULL AND session_token = ?", owner.SessionToken)
	}
}

// FindActive returns the latest active cart for the owner.
func (r *repository) FindActive(ctx context.Context, owner Owner) (*models.Cart, error) {
	var cart models.Cart
	err := r.withItems(ctx).
		Scopes(ownerScope(owner)).
		Where("status = ?", enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) LockActive(ctx context.Context, owner Owner) (*models.Cart, error) {
	var cart models.Cart
	err := r.withItems(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(ownerScope(owner)).
		Where("status = ?", enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.withItems(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cart, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	return r.db.WithContext(ctx).Omit("Items").Create(cart).Error
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Cart{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.DeleteItems(ctx, id); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&models.Cart{}, "id = ?", id).Error
}

// SaveItem inserts the line or overwrites the existing line for the same product.
func (r *repository) SaveItem(ctx context.Context, item *models.CartItem) error {
	var existing models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", item.CartID, item.ProductID).
		First(&existing).Error
	switch {
	case err == nil:
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(item).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(item).Error
	default:
		return err
	}
}

func (r *repository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

func (r *repository) MarkConverted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", id, enums.CartStatusActive).
		Updates(map[string]any{
			"status":       enums.CartStatusConverted,
			"converted_at": at,
			"updated_at":   at,
		}).Error
}
