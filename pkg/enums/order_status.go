package enums

import "fmt"

// OrderStatus tracks the aggregate lifecycle of a buyer order.
type OrderStatus string

const (
	OrderStatusPendingPayment     OrderStatus = "pending_payment"
	OrderStatusPaid               OrderStatus = "paid"
	OrderStatusPartiallyFulfilled OrderStatus = "partially_fulfilled"
	OrderStatusFulfilled          OrderStatus = "fulfilled"
	OrderStatusCompleted          OrderStatus = "completed"
	OrderStatusCancelled          OrderStatus = "cancelled"
	OrderStatusPaymentFailed      OrderStatus = "payment_failed"
	OrderStatusRefunded           OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusPartiallyFulfilled,
	OrderStatusFulfilled,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusPaymentFailed,
	OrderStatusRefunded,
}

// String implements fmt.Stringer.
func (v OrderStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderStatus.
func (v OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
