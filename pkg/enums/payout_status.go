package enums

import "fmt"

// PayoutStatus tracks a transfer of released funds to a store.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusPaid,
	PayoutStatusFailed,
	PayoutStatusCancelled,
}

// String implements fmt.Stringer.
func (v PayoutStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PayoutStatus.
func (v PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
