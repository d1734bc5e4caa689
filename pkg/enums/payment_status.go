package enums

import "fmt"

// PaymentStatus tracks the provider-side state of an order payment.
//
//	pending -> authorized -> captured -> partially_refunded -> refunded
//	pending|authorized -> failed|voided
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusVoided            PaymentStatus = "voided"
	PaymentStatusFailed            PaymentStatus = "failed"
)

func (v PaymentStatus) String() string {
	return string(v)
}

func (v PaymentStatus) IsValid() bool {
	switch v {
	case PaymentStatusPending,
		PaymentStatusAuthorized,
		PaymentStatusCaptured,
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
		PaymentStatusVoided,
		PaymentStatusFailed:
		return true
	}
	return false
}

// Refundable reports whether captured funds remain that a refund can draw on.
func (v PaymentStatus) Refundable() bool {
	return v == PaymentStatusCaptured || v == PaymentStatusPartiallyRefunded
}

// Terminal reports whether the provider will not move the payment again.
func (v PaymentStatus) Terminal() bool {
	return v == PaymentStatusRefunded || v == PaymentStatusVoided || v == PaymentStatusFailed
}

func (v *PaymentStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePaymentStatus(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	if v := PaymentStatus(value); v.IsValid() {
		return v, nil
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
