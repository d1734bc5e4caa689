package controllers

import (
	"net/http"
	"strings"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	cartsvc "github.com/mercato/mercato-backend/internal/cart"
	checkoutsvc "github.com/mercato/mercato-backend/internal/checkout"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/types"
)

type checkoutRequest struct {
	Provider           string        `json:"provider" validate:"omitempty,provider"`
	Currency           string        `json:"currency" validate:"omitempty,currency"`
	ShippingAddress    types.Address `json:"shipping_address" validate:"required"`
	PaymentMethodToken string        `json:"payment_method_token"`
	CustomerRef        string        `json:"customer_ref"`
}

// Checkout converts the buyer's active cart into an order and authorizes
// payment. Replays are absorbed by the idempotency middleware and the
// cart-to-order link.
func Checkout(svc checkoutsvc.Service, carts cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || carts == nil {
			unavailable(w, r, logg, "checkout")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := carts.GetCart(r.Context(), cartsvc.Owner{UserID: actor.UserID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if view == nil || view.CartID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty"))
			return
		}

		currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
		if currency == "" {
			currency = view.Currency
		}

		order, err := svc.Execute(r.Context(), checkoutsvc.Input{
			BuyerUserID:        *actor.UserID,
			CartID:             *view.CartID,
			Provider:           enums.PaymentProvider(payload.Provider),
			Currency:           currency,
			ShippingAddress:    payload.ShippingAddress,
			PaymentMethodToken: strings.TrimSpace(payload.PaymentMethodToken),
			CustomerRef:        strings.TrimSpace(payload.CustomerRef),
			Actor:              actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}
