package controllers

import (
	"net/http"

	"github.com/mercato/mercato-backend/api/responses"
	paymentsvc "github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// OrderPayment returns the payment transaction of an order the caller can see.
func OrderPayment(orders orderReader, svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			unavailable(w, r, logg, "payments")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		if _, err := orders.GetOrder(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.GetForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// PaymentReconcile pulls the provider's view of an order's payment and
// applies any transition the webhooks missed.
func PaymentReconcile(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payments")
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		payment, err := svc.Reconcile(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// SubOrderRefunds lists refunds issued against a sub-order.
func SubOrderRefunds(orders subOrderReader, svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			unavailable(w, r, logg, "payments")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		if _, err := orders.GetSubOrder(r.Context(), actor, subOrderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refunds, err := svc.ListRefunds(r.Context(), subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refunds)
	}
}

// RefundRetry settles a cancellation refund the provider has not accepted yet.
func RefundRetry(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payments")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		refundID, ok := pathID(w, r, logg, "refundId")
		if !ok {
			return
		}
		refund, err := svc.RetryRefund(r.Context(), refundID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}
