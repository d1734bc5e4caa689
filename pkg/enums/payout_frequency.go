package enums

import "fmt"

// PayoutFrequency controls how often a payout schedule runs.
type PayoutFrequency string

const (
	PayoutFrequencyDaily   PayoutFrequency = "daily"
	PayoutFrequencyWeekly  PayoutFrequency = "weekly"
	PayoutFrequencyMonthly PayoutFrequency = "monthly"
)

var validPayoutFrequencies = []PayoutFrequency{
	PayoutFrequencyDaily,
	PayoutFrequencyWeekly,
	PayoutFrequencyMonthly,
}

// String implements fmt.Stringer.
func (v PayoutFrequency) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PayoutFrequency.
func (v PayoutFrequency) IsValid() bool {
	for _, candidate := range validPayoutFrequencies {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePayoutFrequency converts raw input into a PayoutFrequency.
func ParsePayoutFrequency(value string) (PayoutFrequency, error) {
	for _, candidate := range validPayoutFrequencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout frequency %q", value)
}
