package controllers

import (
	"net/http"
	"time"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	"github.com/mercato/mercato-backend/internal/ledger"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

const defaultLedgerWindow = 30 * 24 * time.Hour

// LedgerForOrder lists every money movement recorded against an order.
func LedgerForOrder(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "ledger")
			return
		}
		if _, ok := requireActor(w, r, logg); !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		events, err := svc.ListForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger events"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"events": events})
	}
}

// LedgerTotals sums the caller's store movements; the window defaults to the
// last 30 days.
func LedgerTotals(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "ledger")
			return
		}
		_, storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		end := time.Now().UTC()
		if to != nil {
			end = *to
		}
		start := end.Add(-defaultLedgerWindow)
		if from != nil {
			start = *from
		}
		if !end.After(start) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after start"))
			return
		}

		totals, err := svc.StoreTotals(r.Context(), storeID, start, end)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum ledger events"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"store_id": storeID,
			"from":     start,
			"to":       end,
			"totals":   totals,
		})
	}
}
