package enums

import "fmt"

// CommissionScope sets how specific a commission rule is.
type CommissionScope string

const (
	CommissionScopeGlobal   CommissionScope = "global"
	CommissionScopeCategory CommissionScope = "category"
	CommissionScopeStore    CommissionScope = "store"
)

var validCommissionScopes = []CommissionScope{
	CommissionScopeGlobal,
	CommissionScopeCategory,
	CommissionScopeStore,
}

// String implements fmt.Stringer.
func (v CommissionScope) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CommissionScope.
func (v CommissionScope) IsValid() bool {
	for _, candidate := range validCommissionScopes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCommissionScope converts raw input into a CommissionScope.
func ParseCommissionScope(value string) (CommissionScope, error) {
	for _, candidate := range validCommissionScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission scope %q", value)
}
