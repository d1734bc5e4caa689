package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	commissionsvc "github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

type ruleRequest struct {
	Name          string     `json:"name" validate:"required,max=120"`
	Scope         string     `json:"scope" validate:"required,oneof=global category store"`
	StoreID       *uuid.UUID `json:"store_id"`
	CategoryID    *uuid.UUID `json:"category_id"`
	RateBps       int        `json:"rate_bps" validate:"bps"`
	FixedCents    int64      `json:"fixed_cents" validate:"min=0"`
	MinCents      *int64     `json:"min_cents" validate:"omitempty,min=0"`
	MaxCents      *int64     `json:"max_cents" validate:"omitempty,min=0"`
	Priority      int        `json:"priority"`
	EffectiveFrom *time.Time `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to"`
}

func (req ruleRequest) toInput() commissionsvc.RuleInput {
	from := time.Now().UTC()
	if req.EffectiveFrom != nil {
		from = req.EffectiveFrom.UTC()
	}
	return commissionsvc.RuleInput{
		Name:          validators.SanitizeString(req.Name, 120),
		Scope:         enums.CommissionScope(req.Scope),
		StoreID:       req.StoreID,
		CategoryID:    req.CategoryID,
		RateBps:       req.RateBps,
		FixedCents:    req.FixedCents,
		MinCents:      req.MinCents,
		MaxCents:      req.MaxCents,
		Priority:      req.Priority,
		EffectiveFrom: from,
		EffectiveTo:   req.EffectiveTo,
	}
}

func CommissionRuleCreate(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var payload ruleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rule, err := svc.CreateRule(r.Context(), actor, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rule)
	}
}

func CommissionRuleUpdate(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		ruleID, ok := pathID(w, r, logg, "ruleId")
		if !ok {
			return
		}
		var payload ruleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rule, err := svc.UpdateRule(r.Context(), actor, ruleID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rule)
	}
}

// CommissionRuleDeactivate retires a rule. Charged sub-orders keep their snapshot.
func CommissionRuleDeactivate(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		ruleID, ok := pathID(w, r, logg, "ruleId")
		if !ok {
			return
		}
		if err := svc.DeactivateRule(r.Context(), actor, ruleID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CommissionRuleGet(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		ruleID, ok := pathID(w, r, logg, "ruleId")
		if !ok {
			return
		}
		rule, err := svc.GetRule(r.Context(), ruleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rule)
	}
}

func CommissionRulesList(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		includeInactive := false
		if raw := r.URL.Query().Get("include_inactive"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid include_inactive"))
				return
			}
			includeInactive = parsed
		}
		rules, err := svc.ListRules(r.Context(), includeInactive)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rules)
	}
}

// SubOrderCommissions lists the commission charges and reversals of a sub-order.
func SubOrderCommissions(svc commissionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "commissions")
			return
		}
		subOrderID, ok := pathID(w, r, logg, "subOrderId")
		if !ok {
			return
		}
		rows, err := svc.ListForSubOrder(r.Context(), subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
