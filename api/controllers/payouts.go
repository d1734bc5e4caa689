package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	payoutsvc "github.com/mercato/mercato-backend/internal/payouts"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

type scheduleRequest struct {
	Frequency    string `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	Weekday      *int   `json:"weekday" validate:"omitempty,min=0,max=6"`
	DayOfMonth   *int   `json:"day_of_month" validate:"omitempty,min=1,max=28"`
	MinimumCents int64  `json:"minimum_cents" validate:"min=0"`
	Active       *bool  `json:"active"`
}

func (req scheduleRequest) toInput() payoutsvc.ScheduleInput {
	return payoutsvc.ScheduleInput{
		Frequency:    enums.PayoutFrequency(req.Frequency),
		Weekday:      req.Weekday,
		DayOfMonth:   req.DayOfMonth,
		MinimumCents: req.MinimumCents,
		Active:       req.Active,
	}
}

// PayoutScheduleGet reads the seller's own schedule.
func PayoutScheduleGet(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payouts")
			return
		}
		actor, storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		schedule, err := svc.GetSchedule(r.Context(), actor, storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, schedule)
	}
}

// PayoutScheduleUpsert creates or replaces the seller's schedule.
func PayoutScheduleUpsert(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payouts")
			return
		}
		actor, storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		var payload scheduleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		schedule, err := svc.UpsertSchedule(r.Context(), actor, storeID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, schedule)
	}
}

func PayoutsList(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payouts")
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
		var filter payoutsvc.Filter
		if filter.Status, err = queryEnum(r, "status", enums.ParsePayoutStatus); err != nil {
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

type payoutStep func(payoutsvc.Service, context.Context, *outbox.ActorRef, uuid.UUID) (*models.Payout, error)

func PayoutGet(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepPayout(svc, logg, payoutsvc.Service.Get)
}

// PayoutRetry resubmits a failed payout with the same provider idempotency key.
func PayoutRetry(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepPayout(svc, logg, payoutsvc.Service.Retry)
}

func PayoutCancel(svc payoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stepPayout(svc, logg, payoutsvc.Service.Cancel)
}

func stepPayout(svc payoutsvc.Service, logg *logger.Logger, step payoutStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "payouts")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		payoutID, ok := pathID(w, r, logg, "payoutId")
		if !ok {
			return
		}
		payout, err := step(svc, r.Context(), actor, payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}
