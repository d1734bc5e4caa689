package enums

import (
	"encoding/json"
	"testing"
)

func TestParseRoundTrips(t *testing.T) {
	if got, err := ParseOrderStatus("partially_fulfilled"); err != nil || got != OrderStatusPartiallyFulfilled {
		t.Fatalf("order status = %q, %v", got, err)
	}
	if got, err := ParsePaymentProvider("square"); err != nil || got != PaymentProviderSquare {
		t.Fatalf("provider = %q, %v", got, err)
	}
	if _, err := ParseSubOrderStatus("shipped-ish"); err == nil {
		t.Fatalf("expected unknown sub-order status to fail")
	}
	if _, err := ParseCartStatus(""); err == nil {
		t.Fatalf("expected empty cart status to fail")
	}
}

func TestCartStatusEditable(t *testing.T) {
	if !CartStatusActive.Editable() {
		t.Fatalf("active cart must be editable")
	}
	if CartStatusConverted.Editable() {
		t.Fatalf("converted cart must be read-only")
	}
}

func TestCartStatusUnmarshalRejectsUnknown(t *testing.T) {
	var body struct {
		Status CartStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"converted"}`), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != CartStatusConverted {
		t.Fatalf("status = %q", body.Status)
	}
	if err := json.Unmarshal([]byte(`{"status":"deleted"}`), &body); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestPaymentStatusPredicates(t *testing.T) {
	for _, s := range []PaymentStatus{PaymentStatusCaptured, PaymentStatusPartiallyRefunded} {
		if !s.Refundable() || s.Terminal() {
			t.Fatalf("%s should be refundable and open", s)
		}
	}
	for _, s := range []PaymentStatus{PaymentStatusRefunded, PaymentStatusVoided, PaymentStatusFailed} {
		if s.Refundable() || !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if PaymentStatusAuthorized.Refundable() {
		t.Fatalf("uncaptured payment cannot be refunded")
	}
}

func TestPaymentStatusUnmarshalRejectsUnknown(t *testing.T) {
	var payload struct {
		Status PaymentStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"captured"}`), &payload); err != nil || payload.Status != PaymentStatusCaptured {
		t.Fatalf("status = %q, %v", payload.Status, err)
	}
	if err := json.Unmarshal([]byte(`{"status":"settled"}`), &payload); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}
