package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// CommissionRule is one row of the commission rate table.
type CommissionRule struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name          string                `gorm:"column:name;not null" json:"name"`
	Scope         enums.CommissionScope `gorm:"column:scope;type:text;not null" json:"scope"`
	StoreID       *uuid.UUID            `gorm:"column:store_id;type:uuid" json:"store_id"`
	CategoryID    *uuid.UUID            `gorm:"column:category_id;type:uuid" json:"category_id"`
	RateBps       int                   `gorm:"column:rate_bps;not null" json:"rate_bps"`
	FixedCents    int64                 `gorm:"column:fixed_cents;not null;default:0" json:"fixed_cents"`
	MinCents      *int64                `gorm:"column:min_cents" json:"min_cents"`
	MaxCents      *int64                `gorm:"column:max_cents" json:"max_cents"`
	Priority      int                   `gorm:"column:priority;not null;default:0" json:"priority"`
	EffectiveFrom time.Time             `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo   *time.Time            `gorm:"column:effective_to" json:"effective_to"`
	Active        bool                  `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *CommissionRule) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// CommissionTransaction is a commission charge or reversal on a sub-order.
// AmountCents is always positive; Kind carries the sign.
type CommissionTransaction struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubOrderID  uuid.UUID            `gorm:"column:sub_order_id;type:uuid;not null;index" json:"sub_order_id"`
	StoreID     uuid.UUID            `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	RuleID      *uuid.UUID           `gorm:"column:rule_id;type:uuid" json:"rule_id"`
	RefundID    *uuid.UUID           `gorm:"column:refund_id;type:uuid" json:"refund_id"`
	Kind        enums.CommissionKind `gorm:"column:kind;type:text;not null" json:"kind"`
	BaseCents   int64                `gorm:"column:base_cents;not null" json:"base_cents"`
	RateBps     int                  `gorm:"column:rate_bps;not null" json:"rate_bps"`
	AmountCents int64                `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string               `gorm:"column:currency;not null" json:"currency"`
	InvoiceID   *uuid.UUID           `gorm:"column:invoice_id;type:uuid;index" json:"invoice_id"`
	OccurredAt  time.Time            `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (m *CommissionTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// SignedCents is positive for charges and negative for reversals.
func (m CommissionTransaction) SignedCents() int64 {
	if m.Kind == enums.CommissionKindReversal {
		return -m.AmountCents
	}
	return m.AmountCents
}
