package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// EscrowTransaction holds captured funds for one sub-order until release.
type EscrowTransaction struct {
	ID                      uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubOrderID              uuid.UUID          `gorm:"column:sub_order_id;type:uuid;not null;uniqueIndex" json:"sub_order_id"`
	OrderID                 uuid.UUID          `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	StoreID                 uuid.UUID          `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	Status                  enums.EscrowStatus `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	Currency                string             `gorm:"column:currency;not null" json:"currency"`
	AmountCents             int64              `gorm:"column:amount_cents;not null;default:0" json:"amount_cents"`
	RefundedCents           int64              `gorm:"column:refunded_cents;not null;default:0" json:"refunded_cents"`
	CommissionCents         int64              `gorm:"column:commission_cents;not null;default:0" json:"commission_cents"`
	CommissionReversedCents int64              `gorm:"column:commission_reversed_cents;not null;default:0" json:"commission_reversed_cents"`
	PayoutID                *uuid.UUID         `gorm:"column:payout_id;type:uuid;index" json:"payout_id"`
	OnHold                  bool               `gorm:"column:on_hold;not null;default:false" json:"on_hold"`
	HoldReason              *string            `gorm:"column:hold_reason" json:"hold_reason"`
	FundedAt                *time.Time         `gorm:"column:funded_at" json:"funded_at"`
	ReleasedAt              *time.Time         `gorm:"column:released_at" json:"released_at"`
	CancelledAt             *time.Time         `gorm:"column:cancelled_at" json:"cancelled_at"`
	CreatedAt               time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *EscrowTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// RemainingCents is the captured balance not yet refunded.
func (m EscrowTransaction) RemainingCents() int64 {
	return m.AmountCents - m.RefundedCents
}

// NetCents is what the store is owed once the escrow is released.
func (m EscrowTransaction) NetCents() int64 {
	return m.RemainingCents() - (m.CommissionCents - m.CommissionReversedCents)
}
