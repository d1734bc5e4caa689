package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	returnsvc "github.com/mercato/mercato-backend/internal/returns"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

type returnRequest struct {
	SubOrderID uuid.UUID             `json:"sub_order_id" validate:"required"`
	Items      []itemQuantityPayload `json:"items" validate:"required,min=1,dive"`
	Reason     string                `json:"reason" validate:"required,max=500"`
}

func (req returnRequest) toInput() returnsvc.RequestInput {
	return returnsvc.RequestInput{
		SubOrderID: req.SubOrderID,
		Items:      toItemQuantities(req.Items),
		Reason:     validators.SanitizeString(req.Reason, maxReasonLength),
	}
}

type returnOpener func(returnsvc.Service, context.Context, *outbox.ActorRef, returnsvc.RequestInput) (*models.ReturnRequest, error)

type returnStep func(returnsvc.Service, context.Context, *outbox.ActorRef, uuid.UUID) (*models.ReturnRequest, error)

// ReturnRequest opens a buyer return against delivered units.
func ReturnRequest(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return openReturn(svc, logg, returnsvc.Service.RequestReturn)
}

// ReturnInitiate opens a seller-initiated return, which starts approved.
func ReturnInitiate(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return openReturn(svc, logg, returnsvc.Service.InitiateReturn)
}

func ReturnCancel(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepReturn(svc, logg, returnsvc.Service.CancelReturn)
}

func ReturnApprove(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepReturn(svc, logg, returnsvc.Service.Approve)
}

func ReturnReceived(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepReturn(svc, logg, returnsvc.Service.MarkReceived)
}

// ReturnRefund pays the return back to the buyer from escrow.
func ReturnRefund(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepReturn(svc, logg, returnsvc.Service.Refund)
}

func ReturnGet(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepReturn(svc, logg, returnsvc.Service.Get)
}

func ReturnReject(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "returns")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		returnID, ok := pathID(w, r, logg, "returnId")
		if !ok {
			return
		}
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.Reject(r.Context(), actor, returnID, payload.clean())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// ReturnsList pages returns visible to the caller.
func ReturnsList(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "returns")
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
		var filter returnsvc.Filter
		if filter.Status, err = queryEnum(r, "status", enums.ParseReturnStatus); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.SubOrderID, err = validators.ParseQueryUUID(r, "sub_order_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.StoreID, err = validators.ParseQueryUUID(r, "store_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), actor, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page)
	}
}

func openReturn(svc returnsvc.Service, logg *logger.Logger, open returnOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "returns")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var payload returnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := open(svc, r.Context(), actor, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

func stepReturn(svc returnsvc.Service, logg *logger.Logger, step returnStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "returns")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		returnID, ok := pathID(w, r, logg, "returnId")
		if !ok {
			return
		}
		request, err := step(svc, r.Context(), actor, returnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}
