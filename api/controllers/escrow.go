package controllers

import (
	"net/http"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	escrowsvc "github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/pkg/logger"
)

func EscrowGet(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "escrow")
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		row, err := svc.Get(r.Context(), subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, row)
	}
}

// EscrowRelease releases funds ahead of the hold window.
func EscrowRelease(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "escrow")
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
		row, err := svc.Release(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, row)
	}
}

// EscrowHold freezes release, typically while a dispute is open.
func EscrowHold(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "escrow")
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
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Hold(r.Context(), actor, subOrderID, payload.clean()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func EscrowUnhold(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "escrow")
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
		if err := svc.Unhold(r.Context(), actor, subOrderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
