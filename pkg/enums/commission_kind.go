package enums

import "fmt"

// CommissionKind distinguishes commission charges from reversals.
type CommissionKind string

const (
	CommissionKindCharge   CommissionKind = "charge"
	CommissionKindReversal CommissionKind = "reversal"
)

var validCommissionKinds = []CommissionKind{
	CommissionKindCharge,
	CommissionKindReversal,
}

// String implements fmt.Stringer.
func (v CommissionKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CommissionKind.
func (v CommissionKind) IsValid() bool {
	for _, candidate := range validCommissionKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCommissionKind converts raw input into a CommissionKind.
func ParseCommissionKind(value string) (CommissionKind, error) {
	for _, candidate := range validCommissionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission kind %q", value)
}
