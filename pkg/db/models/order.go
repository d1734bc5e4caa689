package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/types"
)

// Order is the buyer-facing aggregate produced by one checkout.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Number          string                `gorm:"column:number;not null;uniqueIndex" json:"number"`
	BuyerUserID     uuid.UUID             `gorm:"column:buyer_user_id;type:uuid;not null;index" json:"buyer_user_id"`
	CartID          *uuid.UUID            `gorm:"column:cart_id;type:uuid" json:"cart_id"`
	Currency        string                `gorm:"column:currency;not null" json:"currency"`
	Status          enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'pending_payment'" json:"status"`
	PaymentProvider enums.PaymentProvider `gorm:"column:payment_provider;type:text;not null" json:"payment_provider"`
	SubtotalCents   int64                 `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	TotalCents      int64                 `gorm:"column:total_cents;not null" json:"total_cents"`
	ShippingAddress *types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json" json:"shipping_address"`
	SubOrders       []SellerSubOrder      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"sub_orders,omitempty"`
	Payment         *PaymentTransaction   `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"payment,omitempty"`
	PlacedAt        time.Time             `gorm:"column:placed_at;not null" json:"placed_at"`
	CancelledAt     *time.Time            `gorm:"column:cancelled_at" json:"cancelled_at"`
	CompletedAt     *time.Time            `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Order) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// SellerSubOrder is the slice of an order fulfilled by one store.
type SellerSubOrder struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	StoreID        uuid.UUID            `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	Number         string               `gorm:"column:number;not null;uniqueIndex" json:"number"`
	Status         enums.SubOrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'" json:"status"`
	SubtotalCents  int64                `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	TotalCents     int64                `gorm:"column:total_cents;not null" json:"total_cents"`
	CancelledCents int64                `gorm:"column:cancelled_cents;not null;default:0" json:"cancelled_cents"`
	RefundedCents  int64                `gorm:"column:refunded_cents;not null;default:0" json:"refunded_cents"`
	CancelReason   *string              `gorm:"column:cancel_reason" json:"cancel_reason"`
	Items          []OrderItem          `gorm:"foreignKey:SubOrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	Shipments      []Shipment           `gorm:"foreignKey:SubOrderID;constraint:OnDelete:CASCADE" json:"shipments,omitempty"`
	Escrow         *EscrowTransaction   `gorm:"foreignKey:SubOrderID;constraint:OnDelete:RESTRICT" json:"escrow,omitempty"`
	AcceptDeadline *time.Time           `gorm:"column:accept_deadline" json:"accept_deadline"`
	AcceptedAt     *time.Time           `gorm:"column:accepted_at" json:"accepted_at"`
	ShippedAt      *time.Time           `gorm:"column:shipped_at" json:"shipped_at"`
	DeliveredAt    *time.Time           `gorm:"column:delivered_at" json:"delivered_at"`
	CompletedAt    *time.Time           `gorm:"column:completed_at" json:"completed_at"`
	CancelledAt    *time.Time           `gorm:"column:cancelled_at" json:"cancelled_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *SellerSubOrder) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// PayableCents is the value still owed by the buyer after item cancellations.
func (m SellerSubOrder) PayableCents() int64 {
	return m.TotalCents - m.CancelledCents
}

// OrderItem tracks quantities through shipment, cancellation and return.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	SubOrderID     uuid.UUID             `gorm:"column:sub_order_id;type:uuid;not null;index" json:"sub_order_id"`
	ProductID      uuid.UUID             `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	CategoryID     *uuid.UUID            `gorm:"column:category_id;type:uuid" json:"category_id"`
	Title          string                `gorm:"column:title;not null" json:"title"`
	UnitPriceCents int64                 `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	Quantity       int                   `gorm:"column:quantity;not null" json:"quantity"`
	ShippedQty     int                   `gorm:"column:shipped_qty;not null;default:0" json:"shipped_qty"`
	DeliveredQty   int                   `gorm:"column:delivered_qty;not null;default:0" json:"delivered_qty"`
	CancelledQty   int                   `gorm:"column:cancelled_qty;not null;default:0" json:"cancelled_qty"`
	ReturnedQty    int                   `gorm:"column:returned_qty;not null;default:0" json:"returned_qty"`
	Status         enums.OrderItemStatus `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	LineTotalCents int64                 `gorm:"column:line_total_cents;not null" json:"line_total_cents"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// OpenQty is the quantity neither shipped nor cancelled.
func (m OrderItem) OpenQty() int {
	return m.Quantity - m.ShippedQty - m.CancelledQty
}

// ReturnableQty is the shipped quantity not yet returned.
func (m OrderItem) ReturnableQty() int {
	return m.ShippedQty - m.ReturnedQty
}

// DeriveStatus recomputes Status from the quantity counters.
func (m *OrderItem) DeriveStatus() {
	switch {
	case m.CancelledQty == m.Quantity:
		m.Status = enums.OrderItemStatusCancelled
	case m.ReturnedQty > 0 && m.ReturnedQty+m.CancelledQty == m.Quantity:
		m.Status = enums.OrderItemStatusReturned
	case m.ShippedQty > 0 && m.DeliveredQty == m.ShippedQty && m.OpenQty() == 0:
		m.Status = enums.OrderItemStatusDelivered
	case m.ShippedQty > 0 && m.OpenQty() == 0:
		m.Status = enums.OrderItemStatusShipped
	case m.ShippedQty > 0:
		m.Status = enums.OrderItemStatusPartiallyShipped
	default:
		m.Status = enums.OrderItemStatusPending
	}
}

// Shipment is one parcel covering some or all of a sub-order's items.
type Shipment struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubOrderID     uuid.UUID            `gorm:"column:sub_order_id;type:uuid;not null;index" json:"sub_order_id"`
	Carrier        string               `gorm:"column:carrier;not null" json:"carrier"`
	TrackingNumber string               `gorm:"column:tracking_number;not null" json:"tracking_number"`
	Status         enums.ShipmentStatus `gorm:"column:status;type:text;not null;default:'in_transit'" json:"status"`
	Items          []ShipmentItem       `gorm:"foreignKey:ShipmentID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	ShippedAt      time.Time            `gorm:"column:shipped_at;not null" json:"shipped_at"`
	DeliveredAt    *time.Time           `gorm:"column:delivered_at" json:"delivered_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Shipment) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

type ShipmentItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShipmentID  uuid.UUID `gorm:"column:shipment_id;type:uuid;not null;index" json:"shipment_id"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;not null" json:"order_item_id"`
	Quantity    int       `gorm:"column:quantity;not null" json:"quantity"`
}

func (m *ShipmentItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
