package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	subOrderID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.OrderCreatedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "MRC-20260501-ABCDEF",
		SubOrderIDs: []uuid.UUID{subOrderID},
		TotalCents:  4200,
		Currency:    "USD",
	})

	event := models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, enums.EventOrderCreated, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.OrderCreatedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if len(payload.SubOrderIDs) != 1 || payload.SubOrderIDs[0] != subOrderID {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRoutesByDomain(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[enums.OutboxEventType]string{
		enums.EventSubOrderStatusChanged: "orders-topic",
		enums.EventReturnStatusChanged:   "orders-topic",
		enums.EventPaymentCaptured:       "payments-topic",
		enums.EventRefundIssued:          "payments-topic",
		enums.EventEscrowReleased:        "finance-topic",
		enums.EventInvoiceIssued:         "finance-topic",
		enums.EventComplianceLogged:      "compliance-topic",
	}
	for eventType, topic := range cases {
		desc, ok := reg.entries[eventType]
		if !ok {
			t.Fatalf("%s not registered", eventType)
		}
		if desc.Topic != topic {
			t.Fatalf("%s routed to %s, want %s", eventType, desc.Topic, topic)
		}
	}
	if got := len(reg.Topics()); got != 4 {
		t.Fatalf("expected 4 topics, got %d", got)
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     "legacy_event",
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, "legacy_event", []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, enums.EventPaymentCaptured, []byte(`{"amount_cents":100}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveMissingPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventEscrowReleased,
		AggregateType: enums.AggregateEscrow,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, enums.EventEscrowReleased, []byte(`null`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders"})
	if err == nil {
		t.Fatal("expected error for missing topics")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		OrdersTopic:     "orders-topic",
		PaymentsTopic:   "payments-topic",
		FinanceTopic:    "finance-topic",
		ComplianceTopic: "compliance-topic",
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, eventType enums.OutboxEventType, data []byte) []byte {
	t.Helper()
	return mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}
