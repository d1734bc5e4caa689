package enums

import "fmt"

// OutboxAggregateType names the root entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateSubOrder      OutboxAggregateType = "sub_order"
	AggregatePayment       OutboxAggregateType = "payment"
	AggregateEscrow        OutboxAggregateType = "escrow"
	AggregateReturn        OutboxAggregateType = "return"
	AggregatePayout        OutboxAggregateType = "payout"
	AggregateSettlement    OutboxAggregateType = "settlement"
	AggregateInvoice       OutboxAggregateType = "invoice"
	AggregateComplianceLog OutboxAggregateType = "compliance_log"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSubOrder,
	AggregatePayment,
	AggregateEscrow,
	AggregateReturn,
	AggregatePayout,
	AggregateSettlement,
	AggregateInvoice,
	AggregateComplianceLog,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event persisted to the outbox.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventSubOrderStatusChanged OutboxEventType = "sub_order_status_changed"
	EventShipmentCreated       OutboxEventType = "shipment_created"
	EventShipmentDelivered     OutboxEventType = "shipment_delivered"
	EventItemsCancelled        OutboxEventType = "items_cancelled"
	EventPaymentAuthorized     OutboxEventType = "payment_authorized"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentCaptured       OutboxEventType = "payment_captured"
	EventPaymentVoided         OutboxEventType = "payment_voided"
	EventRefundIssued          OutboxEventType = "refund_issued"
	EventEscrowReleased        OutboxEventType = "escrow_released"
	EventReturnStatusChanged   OutboxEventType = "return_status_changed"
	EventPayoutStatusChanged   OutboxEventType = "payout_status_changed"
	EventSettlementGenerated   OutboxEventType = "settlement_generated"
	EventSettlementFinalized   OutboxEventType = "settlement_finalized"
	EventInvoiceIssued         OutboxEventType = "invoice_issued"
	EventComplianceLogged      OutboxEventType = "compliance_logged"
)

var validEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventSubOrderStatusChanged,
	EventShipmentCreated,
	EventShipmentDelivered,
	EventItemsCancelled,
	EventPaymentAuthorized,
	EventPaymentFailed,
	EventPaymentCaptured,
	EventPaymentVoided,
	EventRefundIssued,
	EventEscrowReleased,
	EventReturnStatusChanged,
	EventPayoutStatusChanged,
	EventSettlementGenerated,
	EventSettlementFinalized,
	EventInvoiceIssued,
	EventComplianceLogged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason explains why an event was moved to the DLQ.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)
