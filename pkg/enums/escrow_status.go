package enums

import "fmt"

// EscrowStatus tracks funds held against a sub-order.
type EscrowStatus string

const (
	EscrowStatusPending           EscrowStatus = "pending"
	EscrowStatusHeld              EscrowStatus = "held"
	EscrowStatusPartiallyRefunded EscrowStatus = "partially_refunded"
	EscrowStatusReleased          EscrowStatus = "released"
	EscrowStatusRefunded          EscrowStatus = "refunded"
	EscrowStatusCancelled         EscrowStatus = "cancelled"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusPending,
	EscrowStatusHeld,
	EscrowStatusPartiallyRefunded,
	EscrowStatusReleased,
	EscrowStatusRefunded,
	EscrowStatusCancelled,
}

// String implements fmt.Stringer.
func (v EscrowStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known EscrowStatus.
func (v EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseEscrowStatus converts raw input into a EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}

// IsFunded reports whether the escrow currently holds captured money.
func (v EscrowStatus) IsFunded() bool {
	return v == EscrowStatusHeld || v == EscrowStatusPartiallyRefunded
}
