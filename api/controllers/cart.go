package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/middleware"
	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	cartsvc "github.com/mercato/mercato-backend/internal/cart"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// CartSessionHeader carries the guest cart token for anonymous shoppers.
const CartSessionHeader = "X-Cart-Session"

func cartOwner(r *http.Request) cartsvc.Owner {
	if actor := middleware.ActorFromContext(r.Context()); actor != nil && actor.UserID != nil {
		return cartsvc.Owner{UserID: actor.UserID}
	}
	return cartsvc.Owner{SessionToken: strings.TrimSpace(r.Header.Get(CartSessionHeader))}
}

func CartGet(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "cart")
			return
		}
		view, err := svc.GetCart(r.Context(), cartOwner(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type upsertCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// CartUpsertItem sets the quantity of one product in the active cart.
func CartUpsertItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "cart")
			return
		}
		var payload upsertCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.UpsertItem(r.Context(), cartOwner(r), payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "cart")
			return
		}
		productID, ok := pathID(w, r, logg, "productId")
		if !ok {
			return
		}
		view, err := svc.RemoveItem(r.Context(), cartOwner(r), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "cart")
			return
		}
		if err := svc.Clear(r.Context(), cartOwner(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CartMerge folds the guest cart named by the session header into the
// signed-in buyer's cart.
func CartMerge(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "cart")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		session := strings.TrimSpace(r.Header.Get(CartSessionHeader))
		if session == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart session header required"))
			return
		}
		view, err := svc.MergeSessionCart(r.Context(), session, *actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
