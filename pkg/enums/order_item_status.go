package enums

import "fmt"

// OrderItemStatus summarises the quantity counters of an order item.
type OrderItemStatus string

const (
	OrderItemStatusPending          OrderItemStatus = "pending"
	OrderItemStatusPartiallyShipped OrderItemStatus = "partially_shipped"
	OrderItemStatusShipped          OrderItemStatus = "shipped"
	OrderItemStatusDelivered        OrderItemStatus = "delivered"
	OrderItemStatusCancelled        OrderItemStatus = "cancelled"
	OrderItemStatusReturned         OrderItemStatus = "returned"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusPartiallyShipped,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCancelled,
	OrderItemStatusReturned,
}

// String implements fmt.Stringer.
func (v OrderItemStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (v OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderItemStatus converts raw input into a OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}
