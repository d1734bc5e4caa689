package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	invoicesvc "github.com/mercato/mercato-backend/internal/invoices"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// InvoiceIssue bills a store's uninvoiced commission for a period. An empty
// period answers 204.
func InvoiceIssue(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return billPeriod(svc, logg, invoicesvc.Service.Issue)
}

// InvoicePrepare stages a draft without assigning a number.
func InvoicePrepare(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return billPeriod(svc, logg, invoicesvc.Service.Prepare)
}

type invoiceStep func(invoicesvc.Service, context.Context, *outbox.ActorRef, uuid.UUID) (*models.CommissionInvoice, error)

func InvoicePublish(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepInvoice(svc, logg, invoicesvc.Service.Publish)
}

func InvoiceVoid(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepInvoice(svc, logg, invoicesvc.Service.Void)
}

func InvoiceGet(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepInvoice(svc, logg, invoicesvc.Service.Get)
}

type creditNoteRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

// InvoiceCreditNote credits part of an issued invoice back to the store.
func InvoiceCreditNote(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "invoices")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		invoiceID, ok := pathID(w, r, logg, "invoiceId")
		if !ok {
			return
		}
		var payload creditNoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, maxReasonLength)
		note, err := svc.IssueCreditNote(r.Context(), actor, invoiceID, payload.AmountCents, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, note)
	}
}

func InvoicesList(svc invoicesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "invoices")
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
		var filter invoicesvc.Filter
		if filter.StoreID, err = validators.ParseQueryUUID(r, "store_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Kind, err = queryEnum(r, "kind", enums.ParseInvoiceKind); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Status, err = queryEnum(r, "status", enums.ParseInvoiceStatus); err != nil {
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

type periodBiller func(invoicesvc.Service, context.Context, *outbox.ActorRef, uuid.UUID, time.Time, time.Time) (*models.CommissionInvoice, error)

func billPeriod(svc invoicesvc.Service, logg *logger.Logger, bill periodBiller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "invoices")
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
		invoice, err := bill(svc, r.Context(), actor, payload.StoreID, payload.From.UTC(), payload.To.UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if invoice == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, invoice)
	}
}

func stepInvoice(svc invoicesvc.Service, logg *logger.Logger, step invoiceStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "invoices")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		invoiceID, ok := pathID(w, r, logg, "invoiceId")
		if !ok {
			return
		}
		invoice, err := step(svc, r.Context(), actor, invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if invoice == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found"))
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}
