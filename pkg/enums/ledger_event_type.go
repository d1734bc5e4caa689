package enums

import "fmt"

// LedgerEventType enumerates money movements recorded in the ledger.
type LedgerEventType string

const (
	LedgerEventTypePaymentAuthorized  LedgerEventType = "payment_authorized"
	LedgerEventTypePaymentCaptured    LedgerEventType = "payment_captured"
	LedgerEventTypePaymentVoided      LedgerEventType = "payment_voided"
	LedgerEventTypeRefundIssued       LedgerEventType = "refund_issued"
	LedgerEventTypeCommissionCharged  LedgerEventType = "commission_charged"
	LedgerEventTypeCommissionReversed LedgerEventType = "commission_reversed"
	LedgerEventTypeEscrowReleased     LedgerEventType = "escrow_released"
	LedgerEventTypePayoutPaid         LedgerEventType = "payout_paid"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypePaymentAuthorized,
	LedgerEventTypePaymentCaptured,
	LedgerEventTypePaymentVoided,
	LedgerEventTypeRefundIssued,
	LedgerEventTypeCommissionCharged,
	LedgerEventTypeCommissionReversed,
	LedgerEventTypeEscrowReleased,
	LedgerEventTypePayoutPaid,
}

// String implements fmt.Stringer.
func (v LedgerEventType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known LedgerEventType.
func (v LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
