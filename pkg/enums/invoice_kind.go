package enums

import "fmt"

// InvoiceKind distinguishes invoices from credit notes.
type InvoiceKind string

const (
	InvoiceKindInvoice    InvoiceKind = "invoice"
	InvoiceKindCreditNote InvoiceKind = "credit_note"
)

var validInvoiceKinds = []InvoiceKind{
	InvoiceKindInvoice,
	InvoiceKindCreditNote,
}

// String implements fmt.Stringer.
func (v InvoiceKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known InvoiceKind.
func (v InvoiceKind) IsValid() bool {
	for _, candidate := range validInvoiceKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseInvoiceKind converts raw input into a InvoiceKind.
func ParseInvoiceKind(value string) (InvoiceKind, error) {
	for _, candidate := range validInvoiceKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice kind %q", value)
}
