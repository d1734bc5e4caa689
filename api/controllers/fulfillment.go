package controllers

import (
	"net/http"

	"github.com/mercato/mercato-backend/api/middleware"
	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	ordersvc "github.com/mercato/mercato-backend/internal/orders"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// SubOrdersList pages sub-orders. Sellers are pinned to their store; admins
// may filter by store_id.
func SubOrdersList(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := queryEnum(r, "status", enums.ParseSubOrderStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := ordersvc.SubOrderFilter{Status: status}
		if actor.Role == enums.ActorRoleSeller {
			filter.StoreID = middleware.StoreIDFromContext(r.Context())
		} else if filter.StoreID, err = validators.ParseQueryUUID(r, "store_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListSubOrders(r.Context(), actor, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page)
	}
}

func SubOrderGet(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
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
		sub, err := svc.GetSubOrder(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

func SubOrderAccept(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
			return
		}
		actor, _, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		sub, err := svc.Accept(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

func SubOrderReject(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
			return
		}
		actor, _, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Reject(r.Context(), actor, subOrderID, payload.clean())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

type shipRequest struct {
	Carrier        string                `json:"carrier" validate:"required,max=64"`
	TrackingNumber string                `json:"tracking_number" validate:"required,max=128"`
	Items          []itemQuantityPayload `json:"items" validate:"omitempty,dive"`
}

// SubOrderShip records a shipment. Omitting items ships every open unit.
func SubOrderShip(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
			return
		}
		actor, _, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		var payload shipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Ship(r.Context(), actor, subOrderID, ordersvc.ShipInput{
			Items:          toItemQuantities(payload.Items),
			Carrier:        payload.Carrier,
			TrackingNumber: payload.TrackingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shipment)
	}
}

type cancelItemsRequest struct {
	Items  []itemQuantityPayload `json:"items" validate:"required,min=1,dive"`
	Reason string                `json:"reason" validate:"required,max=500"`
}

// SubOrderCancelItems cancels unshipped units and refunds their share.
func SubOrderCancelItems(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "orders")
			return
		}
		actor, _, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		var payload cancelItemsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, maxReasonLength)
		sub, err := svc.CancelItems(r.Context(), actor, subOrderID, toItemQuantities(payload.Items), reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

func toItemQuantities(items []itemQuantityPayload) []ordersvc.ItemQuantity {
	if len(items) == 0 {
		return nil
	}
	out := make([]ordersvc.ItemQuantity, len(items))
	for i, item := range items {
		out[i] = ordersvc.ItemQuantity{OrderItemID: item.OrderItemID, Quantity: item.Quantity}
	}
	return out
}
