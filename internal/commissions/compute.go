package commissions

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/money"
)

// Rate is the numeric part of a rule. The configured default commission is a
// Rate with no bounds.
type Rate struct {
	RateBps    int
	FixedCents int64
	MinCents   *int64
	MaxCents   *int64
}

// RateOf extracts the numeric terms of rule.
func RateOf(rule models.CommissionRule) Rate {
	return Rate{
		RateBps:    rule.RateBps,
		FixedCents: rule.FixedCents,
		MinCents:   rule.MinCents,
		MaxCents:   rule.MaxCents,
	}
}

// Compute returns round_half_up(amount*bps/10000)+fixed, clamped to the
// rule bounds and never more than amount itself.
func Compute(rate Rate, amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	commission := money.ApplyBps(amountCents, rate.RateBps) + rate.FixedCents
	if rate.MinCents != nil && commission < *rate.MinCents {
		commission = *rate.MinCents
	}
	if rate.MaxCents != nil && commission > *rate.MaxCents {
		commission = *rate.MaxCents
	}
	return money.Clamp(commission, 0, amountCents)
}

func specificity(scope enums.CommissionScope) int {
	switch scope {
	case enums.CommissionScopeStore:
		return 3
	case enums.CommissionScopeCategory:
		return 2
	default:
		return 1
	}
}

// pickRule selects the most specific rule that matches the store and
// category. Ties go to the higher priority, then the newest effective_from.
func pickRule(rules []models.CommissionRule, storeID uuid.UUID, categoryID *uuid.UUID, at time.Time) *models.CommissionRule {
	var matches []models.CommissionRule
	for _, rule := range rules {
		if !rule.Active || rule.EffectiveFrom.After(at) {
			continue
		}
		if rule.EffectiveTo != nil && !rule.EffectiveTo.After(at) {
			continue
		}
		switch rule.Scope {
		case enums.CommissionScopeStore:
			if rule.StoreID == nil || *rule.StoreID != storeID {
				continue
			}
		case enums.CommissionScopeCategory:
			if categoryID == nil || rule.CategoryID == nil || *rule.CategoryID != *categoryID {
				continue
			}
		case enums.CommissionScopeGlobal:
		default:
			continue
		}
		matches = append(matches, rule)
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if sa, sb := specificity(a.Scope), specificity(b.Scope); sa != sb {
			return sa > sb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.EffectiveFrom.After(b.EffectiveFrom)
	})
	return &matches[0]
}
