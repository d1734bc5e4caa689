package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	settlementsvc "github.com/mercato/mercato-backend/internal/settlements"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

type periodRequest struct {
	StoreID uuid.UUID `json:"store_id" validate:"required"`
	From    time.Time `json:"from" validate:"required"`
	To      time.Time `json:"to" validate:"required"`
}

func (req periodRequest) validate() error {
	if !req.To.After(req.From) {
		return pkgerrors.New(pkgerrors.CodeValidation, "period end must be after start")
	}
	return nil
}

// SettlementGenerate builds (or corrects) a store's statement for a period.
func SettlementGenerate(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "settlements")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var payload periodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := payload.validate(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		settlement, err := svc.Generate(r.Context(), actor, payload.StoreID, settlementsvc.Period{
			Start: payload.From.UTC(),
			End:   payload.To.UTC(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, settlement)
	}
}

func SettlementFinalize(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "settlements")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		settlementID, ok := pathID(w, r, logg, "settlementId")
		if !ok {
			return
		}
		settlement, err := svc.Finalize(r.Context(), actor, settlementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settlement)
	}
}

func SettlementGet(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "settlements")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		settlementID, ok := pathID(w, r, logg, "settlementId")
		if !ok {
			return
		}
		settlement, err := svc.Get(r.Context(), actor, settlementID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settlement)
	}
}

func SettlementsList(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "settlements")
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
		storeID, err := validators.ParseQueryUUID(r, "store_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), actor, storeID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page)
	}
}
