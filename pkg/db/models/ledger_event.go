package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// LedgerEvent records an immutable money movement.
type LedgerEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID     *uuid.UUID            `gorm:"column:order_id;type:uuid;index" json:"order_id"`
	SubOrderID  *uuid.UUID            `gorm:"column:sub_order_id;type:uuid" json:"sub_order_id"`
	StoreID     *uuid.UUID            `gorm:"column:store_id;type:uuid" json:"store_id"`
	ReferenceID *uuid.UUID            `gorm:"column:reference_id;type:uuid" json:"reference_id"`
	ActorUserID *uuid.UUID            `gorm:"column:actor_user_id;type:uuid" json:"actor_user_id"`
	Type        enums.LedgerEventType `gorm:"column:type;type:text;not null" json:"type"`
	AmountCents int64                 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string                `gorm:"column:currency;not null" json:"currency"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (m *LedgerEvent) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
