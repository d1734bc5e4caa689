package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// PaymentCreateParams encapsulates the inputs for a delayed-capture Square payment.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) toSquareRequest(idempotencyKey string) *sq.CreatePaymentRequest {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       p.SourceID,
		LocationID:     ptrString(p.LocationID),
		CustomerID:     ptrString(p.CustomerID),
		Autocomplete:   boolPtr(false),
	}
	if p.AmountCents > 0 {
		req.AmountMoney = moneyPtr(p.AmountCents, p.Currency)
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	return req
}

// RefundParams describes a refund against a completed payment.
type RefundParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

func (p RefundParams) toSquareRequest(idempotencyKey string) *sq.RefundPaymentRequest {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: idempotencyKey,
		AmountMoney:    moneyPtr(p.AmountCents, p.Currency),
		PaymentID:      ptrString(p.PaymentID),
	}
	if trimmed := strings.TrimSpace(p.Reason); trimmed != "" {
		req.Reason = ptrString(trimmed)
	}
	return req
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}

// PaymentID returns the Square payment id, or "" for a nil payment.
func PaymentID(p *sq.Payment) string {
	if p == nil {
		return ""
	}
	return stringValue(p.GetID())
}

func PaymentStatus(p *sq.Payment) string {
	if p == nil {
		return ""
	}
	return strings.ToUpper(stringValue(p.GetStatus()))
}

// PaymentAmount returns the payment's amount in minor units.
func PaymentAmount(p *sq.Payment) int64 {
	if p == nil || p.GetAmountMoney() == nil || p.GetAmountMoney().Amount == nil {
		return 0
	}
	return *p.GetAmountMoney().Amount
}

// RefundID reads the refund id, which the SDK exposes either as a value or a
// pointer depending on the endpoint schema.
func RefundID(r *sq.PaymentRefund) string {
	if r == nil {
		return ""
	}
	switch v := any(r.GetID()).(type) {
	case string:
		return v
	case *string:
		return stringValue(v)
	}
	return ""
}

func RefundStatus(r *sq.PaymentRefund) string {
	if r == nil {
		return ""
	}
	return strings.ToUpper(stringValue(r.GetStatus()))
}

// RefundPaymentID returns the id of the payment a refund belongs to.
func RefundPaymentID(r *sq.PaymentRefund) string {
	if r == nil {
		return ""
	}
	switch v := any(r.GetPaymentID()).(type) {
	case string:
		return v
	case *string:
		return stringValue(v)
	}
	return ""
}
