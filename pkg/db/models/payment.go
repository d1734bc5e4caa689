package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// PaymentTransaction is the single provider authorization backing an order.
type PaymentTransaction struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"order_id"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:text;not null" json:"provider"`
	ProviderRef     *string               `gorm:"column:provider_ref;index" json:"provider_ref"`
	Status          enums.PaymentStatus   `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	Currency        string                `gorm:"column:currency;not null" json:"currency"`
	AmountCents     int64                 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	AuthorizedCents int64                 `gorm:"column:authorized_cents;not null;default:0" json:"authorized_cents"`
	CapturedCents   int64                 `gorm:"column:captured_cents;not null;default:0" json:"captured_cents"`
	RefundedCents   int64                 `gorm:"column:refunded_cents;not null;default:0" json:"refunded_cents"`
	FailureReason   *string               `gorm:"column:failure_reason" json:"failure_reason"`
	AuthorizedAt    *time.Time            `gorm:"column:authorized_at" json:"authorized_at"`
	CapturedAt      *time.Time            `gorm:"column:captured_at" json:"captured_at"`
	VoidedAt        *time.Time            `gorm:"column:voided_at" json:"voided_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// RefundableCents is what the provider will still accept as a refund.
func (m PaymentTransaction) RefundableCents() int64 {
	return m.CapturedCents - m.RefundedCents
}

// PaymentEvent is an append-only record of provider webhook deliveries.
type PaymentEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:text;not null;uniqueIndex:payment_events_provider_event_key" json:"provider"`
	ProviderEventID string                `gorm:"column:provider_event_id;not null;uniqueIndex:payment_events_provider_event_key" json:"provider_event_id"`
	EventType       string                `gorm:"column:event_type;not null" json:"event_type"`
	PaymentID       *uuid.UUID            `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb" json:"payload"`
	ProcessedAt     time.Time             `gorm:"column:processed_at;not null" json:"processed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (m *PaymentEvent) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Refund is money returned to the buyer for part of a sub-order.
type Refund struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubOrderID    uuid.UUID             `gorm:"column:sub_order_id;type:uuid;not null;index" json:"sub_order_id"`
	OrderID       uuid.UUID             `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	StoreID       uuid.UUID             `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	PaymentID     uuid.UUID             `gorm:"column:payment_id;type:uuid;not null" json:"payment_id"`
	ReturnID      *uuid.UUID            `gorm:"column:return_id;type:uuid" json:"return_id"`
	Provider      enums.PaymentProvider `gorm:"column:provider;type:text;not null" json:"provider"`
	ProviderRef   *string               `gorm:"column:provider_ref" json:"provider_ref"`
	AmountCents   int64                 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Reason        string                `gorm:"column:reason;not null" json:"reason"`
	Status        enums.RefundStatus    `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	FailureReason *string               `gorm:"column:failure_reason" json:"failure_reason"`
	Attempts      int                   `gorm:"column:attempts;not null;default:0" json:"attempts"`
	AppliedAt     *time.Time            `gorm:"column:applied_at" json:"applied_at"`
	SucceededAt   *time.Time            `gorm:"column:succeeded_at" json:"succeeded_at"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Refund) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Unsettled reports a refund still owed to the buyer: recorded, but neither
// applied to the escrow nor failed.
func (m *Refund) Unsettled() bool {
	return m.Status == enums.RefundStatusPending && m.AppliedAt == nil
}

// BacksCancellation reports a refund owed for cancelled items or orders.
// Those cancellations are already committed, so the refund is never
// abandoned, only retried.
func (m *Refund) BacksCancellation() bool {
	return m.ReturnID == nil
}
