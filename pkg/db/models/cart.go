package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// Cart is owned by a signed-in user or by an anonymous session token.
type Cart struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID       *uuid.UUID       `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	SessionToken *string          `gorm:"column:session_token;index" json:"session_token"`
	Status       enums.CartStatus `gorm:"column:status;type:text;not null;default:'active'" json:"status"`
	Currency     string           `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	Items        []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	ConvertedAt  *time.Time       `gorm:"column:converted_at" json:"converted_at"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Cart) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// CartItem snapshots the product at the time it was added.
type CartItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CartID         uuid.UUID  `gorm:"column:cart_id;type:uuid;not null;index" json:"cart_id"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	StoreID        uuid.UUID  `gorm:"column:store_id;type:uuid;not null" json:"store_id"`
	CategoryID     *uuid.UUID `gorm:"column:category_id;type:uuid" json:"category_id"`
	Title          string     `gorm:"column:title;not null" json:"title"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	Currency       string     `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	Quantity       int        `gorm:"column:quantity;not null" json:"quantity"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *CartItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

func (m CartItem) LineTotalCents() int64 {
	return m.UnitPriceCents * int64(m.Quantity)
}
