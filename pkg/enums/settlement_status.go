package enums

import "fmt"

// SettlementStatus tracks a settlement document.
type SettlementStatus string

const (
	SettlementStatusDraft      SettlementStatus = "draft"
	SettlementStatusFinalized  SettlementStatus = "finalized"
	SettlementStatusSuperseded SettlementStatus = "superseded"
)

var validSettlementStatuses = []SettlementStatus{
	SettlementStatusDraft,
	SettlementStatusFinalized,
	SettlementStatusSuperseded,
}

// String implements fmt.Stringer.
func (v SettlementStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known SettlementStatus.
func (v SettlementStatus) IsValid() bool {
	for _, candidate := range validSettlementStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSettlementStatus converts raw input into a SettlementStatus.
func ParseSettlementStatus(value string) (SettlementStatus, error) {
	for _, candidate := range validSettlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement status %q", value)
}
