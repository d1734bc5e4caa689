package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is a seller account. Only the fields the money pipeline needs live here.
type Store struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name             string    `gorm:"column:name;not null" json:"name"`
	OwnerUserID      uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null" json:"owner_user_id"`
	Active           bool      `gorm:"column:active;not null;default:true" json:"active"`
	Currency         string    `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	StripeAccountID  *string   `gorm:"column:stripe_account_id" json:"stripe_account_id"`
	SquareLocationID *string   `gorm:"column:square_location_id" json:"square_location_id"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Store) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Product is the read-only catalog view used to price carts and reserve stock.
type Product struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StoreID        uuid.UUID  `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	CategoryID     *uuid.UUID `gorm:"column:category_id;type:uuid" json:"category_id"`
	SKU            string     `gorm:"column:sku;not null" json:"sku"`
	Title          string     `gorm:"column:title;not null" json:"title"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	Currency       string     `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	Stock          int        `gorm:"column:stock;not null;default:0" json:"stock"`
	Active         bool       `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Product) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
