package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout split into seller sub-orders.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	BuyerUserID uuid.UUID   `json:"buyer_user_id"`
	SubOrderIDs []uuid.UUID `json:"sub_order_ids"`
	TotalCents  int64       `json:"total_cents"`
	Currency    string      `json:"currency"`
}

type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// SubOrderStatusChangedEvent is emitted on every seller sub-order transition.
type SubOrderStatusChangedEvent struct {
	SubOrderID uuid.UUID            `json:"sub_order_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	StoreID    uuid.UUID            `json:"store_id"`
	From       enums.SubOrderStatus `json:"from"`
	To         enums.SubOrderStatus `json:"to"`
	Reason     string               `json:"reason,omitempty"`
}

type ItemQuantity struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
}

// ShipmentEvent covers shipment_created and shipment_delivered.
type ShipmentEvent struct {
	ShipmentID     uuid.UUID      `json:"shipment_id"`
	SubOrderID     uuid.UUID      `json:"sub_order_id"`
	OrderID        uuid.UUID      `json:"order_id"`
	StoreID        uuid.UUID      `json:"store_id"`
	Carrier        string         `json:"carrier,omitempty"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	Items          []ItemQuantity `json:"items"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type ItemsCancelledEvent struct {
	SubOrderID  uuid.UUID      `json:"sub_order_id"`
	OrderID     uuid.UUID      `json:"order_id"`
	StoreID     uuid.UUID      `json:"store_id"`
	Items       []ItemQuantity `json:"items"`
	AmountCents int64          `json:"amount_cents"`
	Reason      string         `json:"reason,omitempty"`
}

// PaymentStatusEvent covers authorize, capture, void and failure.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID             `json:"payment_id"`
	OrderID       uuid.UUID             `json:"order_id"`
	Provider      enums.PaymentProvider `json:"provider"`
	Status        enums.PaymentStatus   `json:"status"`
	AmountCents   int64                 `json:"amount_cents"`
	Currency      string                `json:"currency"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

type RefundIssuedEvent struct {
	RefundID    uuid.UUID  `json:"refund_id"`
	PaymentID   uuid.UUID  `json:"payment_id"`
	SubOrderID  uuid.UUID  `json:"sub_order_id"`
	StoreID     uuid.UUID  `json:"store_id"`
	ReturnID    *uuid.UUID `json:"return_id,omitempty"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
}

type EscrowReleasedEvent struct {
	EscrowID   uuid.UUID `json:"escrow_id"`
	SubOrderID uuid.UUID `json:"sub_order_id"`
	StoreID    uuid.UUID `json:"store_id"`
	NetCents   int64     `json:"net_cents"`
	Currency   string    `json:"currency"`
	ReleasedAt time.Time `json:"released_at"`
}

type ReturnStatusChangedEvent struct {
	ReturnID   uuid.UUID             `json:"return_id"`
	SubOrderID uuid.UUID             `json:"sub_order_id"`
	StoreID    uuid.UUID             `json:"store_id"`
	Initiator  enums.ReturnInitiator `json:"initiator"`
	From       enums.ReturnStatus    `json:"from,omitempty"`
	To         enums.ReturnStatus    `json:"to"`
}

type PayoutStatusChangedEvent struct {
	PayoutID      uuid.UUID          `json:"payout_id"`
	StoreID       uuid.UUID          `json:"store_id"`
	Status        enums.PayoutStatus `json:"status"`
	AmountCents   int64              `json:"amount_cents"`
	Currency      string             `json:"currency"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

// SettlementEvent covers settlement_generated and settlement_finalized.
type SettlementEvent struct {
	SettlementID         uuid.UUID              `json:"settlement_id"`
	StoreID              uuid.UUID              `json:"store_id"`
	Number               string                 `json:"number"`
	Status               enums.SettlementStatus `json:"status"`
	PeriodStart          time.Time              `json:"period_start"`
	PeriodEnd            time.Time              `json:"period_end"`
	ClosingBalanceCents  int64                  `json:"closing_balance_cents"`
	CorrectsSettlementID *uuid.UUID             `json:"corrects_settlement_id,omitempty"`
}

type InvoiceIssuedEvent struct {
	InvoiceID         uuid.UUID         `json:"invoice_id"`
	StoreID           uuid.UUID         `json:"store_id"`
	Number            string            `json:"number"`
	Kind              enums.InvoiceKind `json:"kind"`
	TotalCents        int64             `json:"total_cents"`
	Currency          string            `json:"currency"`
	OriginalInvoiceID *uuid.UUID        `json:"original_invoice_id,omitempty"`
}

// ComplianceLoggedEvent mirrors a compliance_logs row for the analytics sink.
type ComplianceLoggedEvent struct {
	LogID       uuid.UUID              `json:"log_id"`
	ActorUserID *uuid.UUID             `json:"actor_user_id,omitempty"`
	ActorRole   enums.ActorRole        `json:"actor_role"`
	Action      string                 `json:"action"`
	EntityType  enums.ComplianceEntity `json:"entity_type"`
	EntityID    uuid.UUID              `json:"entity_id"`
	BeforeState json.RawMessage        `json:"before_state,omitempty"`
	AfterState  json.RawMessage        `json:"after_state,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
