package settlements

import (
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Totals are the headline figures of a settlement. Every field is a
// positive magnitude except CommissionCents, which nets reversals and
// may go negative.
type Totals struct {
	GrossSalesCents int64
	RefundsCents    int64
	CommissionCents int64
	PaidOutCents    int64
}

func (t Totals) NetCents() int64 {
	return t.GrossSalesCents - t.RefundsCents - t.CommissionCents
}

func (t Totals) ClosingBalanceCents() int64 {
	return t.NetCents() - t.PaidOutCents
}

func (t Totals) apply(s *models.Settlement) {
	s.GrossSalesCents = t.GrossSalesCents
	s.RefundsCents = t.RefundsCents
	s.CommissionCents = t.CommissionCents
	s.NetCents = t.NetCents()
	s.PaidOutCents = t.PaidOutCents
	s.ClosingBalanceCents = t.ClosingBalanceCents()
}

func totalsOf(s models.Settlement) Totals {
	return Totals{
		GrossSalesCents: s.GrossSalesCents,
		RefundsCents:    s.RefundsCents,
		CommissionCents: s.CommissionCents,
		PaidOutCents:    s.PaidOutCents,
	}
}

func summarize(activity []Activity) Totals {
	var t Totals
	for _, a := range activity {
		switch a.Type {
		case enums.SettlementItemTypeSale:
			t.GrossSalesCents += a.AmountCents
		case enums.SettlementItemTypeRefund:
			t.RefundsCents -= a.AmountCents
		case enums.SettlementItemTypeCommission, enums.SettlementItemTypeCommissionReversal:
			t.CommissionCents -= a.AmountCents
		case enums.SettlementItemTypePayout:
			t.PaidOutCents -= a.AmountCents
		}
	}
	return t
}

var itemLabels = map[enums.SettlementItemType]string{
	enums.SettlementItemTypeSale:               "Sale",
	enums.SettlementItemTypeRefund:             "Refund",
	enums.SettlementItemTypeCommission:         "Commission",
	enums.SettlementItemTypeCommissionReversal: "Commission reversal",
	enums.SettlementItemTypePayout:             "Payout",
}

func itemsFor(activity []Activity) []models.SettlementItem {
	items := make([]models.SettlementItem, 0, len(activity))
	for _, a := range activity {
		ref := a.ReferenceID
		items = append(items, models.SettlementItem{
			Type:        a.Type,
			ReferenceID: &ref,
			Description: fmt.Sprintf("%s %s", itemLabels[a.Type], a.Label),
			AmountCents: a.AmountCents,
			OccurredAt:  a.OccurredAt,
		})
	}
	return items
}

// correctionItems returns one signed line per figure that moved since the
// prior settlement. An empty result means nothing changed.
func correctionItems(prior models.Settlement, fresh Totals, at time.Time) []models.SettlementItem {
	old := totalsOf(prior)
	ref := prior.ID
	var items []models.SettlementItem
	add := func(kind enums.SettlementItemType, amount int64) {
		if amount == 0 {
			return
		}
		items = append(items, models.SettlementItem{
			Type:        kind,
			ReferenceID: &ref,
			Description: fmt.Sprintf("%s adjustment to %s", itemLabels[kind], prior.Number),
			AmountCents: amount,
			OccurredAt:  at.UTC(),
		})
	}
	add(enums.SettlementItemTypeSale, fresh.GrossSalesCents-old.GrossSalesCents)
	add(enums.SettlementItemTypeRefund, -(fresh.RefundsCents - old.RefundsCents))
	if delta := -(fresh.CommissionCents - old.CommissionCents); delta < 0 {
		add(enums.SettlementItemTypeCommission, delta)
	} else {
		add(enums.SettlementItemTypeCommissionReversal, delta)
	}
	add(enums.SettlementItemTypePayout, -(fresh.PaidOutCents - old.PaidOutCents))
	return items
}
