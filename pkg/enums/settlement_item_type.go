package enums

import "fmt"

// SettlementItemType classifies a settlement line.
type SettlementItemType string

const (
	SettlementItemTypeSale               SettlementItemType = "sale"
	SettlementItemTypeRefund             SettlementItemType = "refund"
	SettlementItemTypeCommission         SettlementItemType = "commission"
	SettlementItemTypeCommissionReversal SettlementItemType = "commission_reversal"
	SettlementItemTypePayout             SettlementItemType = "payout"
)

var validSettlementItemTypes = []SettlementItemType{
	SettlementItemTypeSale,
	SettlementItemTypeRefund,
	SettlementItemTypeCommission,
	SettlementItemTypeCommissionReversal,
	SettlementItemTypePayout,
}

// String implements fmt.Stringer.
func (v SettlementItemType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known SettlementItemType.
func (v SettlementItemType) IsValid() bool {
	for _, candidate := range validSettlementItemTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSettlementItemType converts raw input into a SettlementItemType.
func ParseSettlementItemType(value string) (SettlementItemType, error) {
	for _, candidate := range validSettlementItemTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement item type %q", value)
}
