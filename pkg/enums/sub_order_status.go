package enums

import "fmt"

// SubOrderStatus tracks the lifecycle of the slice of an order owned by one store.
type SubOrderStatus string

const (
	SubOrderStatusPendingPayment     SubOrderStatus = "pending_payment"
	SubOrderStatusAwaitingAcceptance SubOrderStatus = "awaiting_acceptance"
	SubOrderStatusPreparing          SubOrderStatus = "preparing"
	SubOrderStatusPartiallyShipped   SubOrderStatus = "partially_shipped"
	SubOrderStatusShipped            SubOrderStatus = "shipped"
	SubOrderStatusDelivered          SubOrderStatus = "delivered"
	SubOrderStatusCompleted          SubOrderStatus = "completed"
	SubOrderStatusCancelled          SubOrderStatus = "cancelled"
	SubOrderStatusRefunded           SubOrderStatus = "refunded"
)

var validSubOrderStatuses = []SubOrderStatus{
	SubOrderStatusPendingPayment,
	SubOrderStatusAwaitingAcceptance,
	SubOrderStatusPreparing,
	SubOrderStatusPartiallyShipped,
	SubOrderStatusShipped,
	SubOrderStatusDelivered,
	SubOrderStatusCompleted,
	SubOrderStatusCancelled,
	SubOrderStatusRefunded,
}

// String implements fmt.Stringer.
func (v SubOrderStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known SubOrderStatus.
func (v SubOrderStatus) IsValid() bool {
	for _, candidate := range validSubOrderStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSubOrderStatus converts raw input into a SubOrderStatus.
func ParseSubOrderStatus(value string) (SubOrderStatus, error) {
	for _, candidate := range validSubOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sub-order status %q", value)
}

// IsTerminal reports whether no further fulfillment transition is possible.
func (v SubOrderStatus) IsTerminal() bool {
	switch v {
	case SubOrderStatusCompleted, SubOrderStatusCancelled, SubOrderStatusRefunded:
		return true
	}
	return false
}

// HasShipped reports whether at least one parcel left the seller.
func (v SubOrderStatus) HasShipped() bool {
	switch v {
	case SubOrderStatusPartiallyShipped, SubOrderStatusShipped, SubOrderStatusDelivered, SubOrderStatusCompleted:
		return true
	}
	return false
}
