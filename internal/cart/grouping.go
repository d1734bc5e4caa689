package cart

import (
	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/db/models"
)

// StoreGroup is the slice of a cart sold by one store.
type StoreGroup struct {
	StoreID       uuid.UUID         `json:"store_id"`
	Items         []models.CartItem `json:"items"`
	SubtotalCents int64             `json:"subtotal_cents"`
	ItemCount     int               `json:"item_count"`
}

// GroupByStore groups cart items by store, keeping the order in which stores
// first appear.
func GroupByStore(items []models.CartItem) []StoreGroup {
	index := make(map[uuid.UUID]int)
	var groups []StoreGroup
	for _, item := range items {
		i, ok := index[item.StoreID]
		if !ok {
			i = len(groups)
			index[item.StoreID] = i
			groups = append(groups, StoreGroup{StoreID: item.StoreID})
		}
		groups[i].Items = append(groups[i].Items, item)
		groups[i].SubtotalCents += item.LineTotalCents()
		groups[i].ItemCount += item.Quantity
	}
	return groups
}

// Currencies returns the distinct currencies of the items.
func Currencies(items []models.CartItem) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range items {
		if _, ok := seen[item.Currency]; ok {
			continue
		}
		seen[item.Currency] = struct{}{}
		out = append(out, item.Currency)
	}
	return out
}
