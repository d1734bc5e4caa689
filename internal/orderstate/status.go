package orderstate

import "github.com/mercato/mercato-backend/pkg/enums"

var subOrderTransitions = map[enums.SubOrderStatus][]enums.SubOrderStatus{
	enums.SubOrderStatusPendingPayment: {
		enums.SubOrderStatusAwaitingAcceptance,
		enums.SubOrderStatusCancelled,
	},
	enums.SubOrderStatusAwaitingAcceptance: {
		enums.SubOrderStatusPreparing,
		enums.SubOrderStatusCancelled,
	},
	enums.SubOrderStatusPreparing: {
		enums.SubOrderStatusPartiallyShipped,
		enums.SubOrderStatusShipped,
		enums.SubOrderStatusCancelled,
		enums.SubOrderStatusRefunded,
	},
	enums.SubOrderStatusPartiallyShipped: {
		enums.SubOrderStatusShipped,
		enums.SubOrderStatusRefunded,
	},
	enums.SubOrderStatusShipped: {
		enums.SubOrderStatusDelivered,
		enums.SubOrderStatusRefunded,
	},
	enums.SubOrderStatusDelivered: {
		enums.SubOrderStatusCompleted,
		enums.SubOrderStatusRefunded,
	},
}

// CanTransition reports whether a sub-order may move from one status to another.
func CanTransition(from, to enums.SubOrderStatus) bool {
	for _, candidate := range subOrderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// DeriveOrderStatus aggregates sub-order statuses into the buyer-facing
// order status. A failed payment wins over everything else.
func DeriveOrderStatus(subs []enums.SubOrderStatus, payment enums.PaymentStatus) enums.OrderStatus {
	if payment == enums.PaymentStatusFailed {
		return enums.OrderStatusPaymentFailed
	}
	if len(subs) == 0 {
		return enums.OrderStatusPendingPayment
	}

	var pending, cancelled, refunded, completed, fulfilled, shipped int
	for _, status := range subs {
		switch status {
		case enums.SubOrderStatusPendingPayment:
			pending++
		case enums.SubOrderStatusCancelled:
			cancelled++
		case enums.SubOrderStatusRefunded:
			refunded++
		case enums.SubOrderStatusCompleted:
			completed++
			fulfilled++
			shipped++
		case enums.SubOrderStatusDelivered:
			fulfilled++
			shipped++
		case enums.SubOrderStatusShipped, enums.SubOrderStatusPartiallyShipped:
			shipped++
		}
	}

	active := len(subs) - cancelled - refunded
	switch {
	case pending == len(subs):
		return enums.OrderStatusPendingPayment
	case cancelled == len(subs):
		return enums.OrderStatusCancelled
	case active == 0:
		return enums.OrderStatusRefunded
	case completed == active:
		return enums.OrderStatusCompleted
	case fulfilled == active:
		return enums.OrderStatusFulfilled
	case shipped > 0:
		return enums.OrderStatusPartiallyFulfilled
	default:
		return enums.OrderStatusPaid
	}
}
