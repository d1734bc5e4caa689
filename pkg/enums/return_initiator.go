package enums

import "fmt"

// ReturnInitiator records who opened a return.
type ReturnInitiator string

const (
	ReturnInitiatorBuyer  ReturnInitiator = "buyer"
	ReturnInitiatorSeller ReturnInitiator = "seller"
)

var validReturnInitiators = []ReturnInitiator{
	ReturnInitiatorBuyer,
	ReturnInitiatorSeller,
}

// String implements fmt.Stringer.
func (v ReturnInitiator) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ReturnInitiator.
func (v ReturnInitiator) IsValid() bool {
	for _, candidate := range validReturnInitiators {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReturnInitiator converts raw input into a ReturnInitiator.
func ParseReturnInitiator(value string) (ReturnInitiator, error) {
	for _, candidate := range validReturnInitiators {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return initiator %q", value)
}
