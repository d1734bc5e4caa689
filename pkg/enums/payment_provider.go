package enums

import "fmt"

// PaymentProvider identifies the PSP adapter handling a payment.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderSquare PaymentProvider = "square"
	PaymentProviderManual PaymentProvider = "manual"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderStripe,
	PaymentProviderSquare,
	PaymentProviderManual,
}

// String implements fmt.Stringer.
func (v PaymentProvider) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentProvider.
func (v PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
