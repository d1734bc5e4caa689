package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// ReturnRequest asks the seller to take back shipped items for a refund.
type ReturnRequest struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubOrderID      uuid.UUID             `gorm:"column:sub_order_id;type:uuid;not null;index" json:"sub_order_id"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	StoreID         uuid.UUID             `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	BuyerUserID     uuid.UUID             `gorm:"column:buyer_user_id;type:uuid;not null" json:"buyer_user_id"`
	Initiator       enums.ReturnInitiator `gorm:"column:initiator;type:text;not null" json:"initiator"`
	Status          enums.ReturnStatus    `gorm:"column:status;type:text;not null;default:'requested'" json:"status"`
	Reason          string                `gorm:"column:reason;not null" json:"reason"`
	RejectionReason *string               `gorm:"column:rejection_reason" json:"rejection_reason"`
	RefundCents     int64                 `gorm:"column:refund_cents;not null" json:"refund_cents"`
	RefundID        *uuid.UUID            `gorm:"column:refund_id;type:uuid" json:"refund_id"`
	Items           []ReturnItem          `gorm:"foreignKey:ReturnID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	RequestedAt     time.Time             `gorm:"column:requested_at;not null" json:"requested_at"`
	ApprovedAt      *time.Time            `gorm:"column:approved_at" json:"approved_at"`
	ReceivedAt      *time.Time            `gorm:"column:received_at" json:"received_at"`
	RefundedAt      *time.Time            `gorm:"column:refunded_at" json:"refunded_at"`
	ClosedAt        *time.Time            `gorm:"column:closed_at" json:"closed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *ReturnRequest) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

type ReturnItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ReturnID       uuid.UUID `gorm:"column:return_id;type:uuid;not null;index" json:"return_id"`
	OrderItemID    uuid.UUID `gorm:"column:order_item_id;type:uuid;not null" json:"order_item_id"`
	Quantity       int       `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
}

func (m *ReturnItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
