package registry

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[string]string{
		"orders":     cfg.OrdersTopic,
		"payments":   cfg.PaymentsTopic,
		"finance":    cfg.FinanceTopic,
		"compliance": cfg.ComplianceTopic,
	}
	for name, topic := range topics {
		if topic == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventOrderCreated,
			AggregateType:  enums.AggregateOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.OrderCreatedEvent{} },
		},
		{
			EventType:      enums.EventOrderStatusChanged,
			AggregateType:  enums.AggregateOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.OrderStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventSubOrderStatusChanged,
			AggregateType:  enums.AggregateSubOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.SubOrderStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventShipmentCreated,
			AggregateType:  enums.AggregateSubOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.ShipmentEvent{} },
		},
		{
			EventType:      enums.EventShipmentDelivered,
			AggregateType:  enums.AggregateSubOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.ShipmentEvent{} },
		},
		{
			EventType:      enums.EventItemsCancelled,
			AggregateType:  enums.AggregateSubOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.ItemsCancelledEvent{} },
		},
		{
			EventType:      enums.EventReturnStatusChanged,
			AggregateType:  enums.AggregateReturn,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: func() any { return &payloads.ReturnStatusChangedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPaymentAuthorized,
		enums.EventPaymentFailed,
		enums.EventPaymentCaptured,
		enums.EventPaymentVoided,
	} {
		reg.register(EventDescriptor{
			EventType:      eventType,
			AggregateType:  enums.AggregatePayment,
			Topic:          cfg.PaymentsTopic,
			PayloadFactory: func() any { return &payloads.PaymentStatusEvent{} },
		})
	}
	reg.register(EventDescriptor{
		EventType:      enums.EventRefundIssued,
		AggregateType:  enums.AggregatePayment,
		Topic:          cfg.PaymentsTopic,
		PayloadFactory: func() any { return &payloads.RefundIssuedEvent{} },
	})
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventEscrowReleased,
			AggregateType:  enums.AggregateEscrow,
			Topic:          cfg.FinanceTopic,
			PayloadFactory: func() any { return &payloads.EscrowReleasedEvent{} },
		},
		{
			EventType:      enums.EventPayoutStatusChanged,
			AggregateType:  enums.AggregatePayout,
			Topic:          cfg.FinanceTopic,
			PayloadFactory: func() any { return &payloads.PayoutStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventSettlementGenerated,
			AggregateType:  enums.AggregateSettlement,
			Topic:          cfg.FinanceTopic,
			PayloadFactory: func() any { return &payloads.SettlementEvent{} },
		},
		{
			EventType:      enums.EventSettlementFinalized,
			AggregateType:  enums.AggregateSettlement,
			Topic:          cfg.FinanceTopic,
			PayloadFactory: func() any { return &payloads.SettlementEvent{} },
		},
		{
			EventType:      enums.EventInvoiceIssued,
			AggregateType:  enums.AggregateInvoice,
			Topic:          cfg.FinanceTopic,
			PayloadFactory: func() any { return &payloads.InvoiceIssuedEvent{} },
		},
	} {
		reg.register(desc)
	}
	reg.register(EventDescriptor{
		EventType:      enums.EventComplianceLogged,
		AggregateType:  enums.AggregateComplianceLog,
		Topic:          cfg.ComplianceTopic,
		PayloadFactory: func() any { return &payloads.ComplianceLoggedEvent{} },
	})

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Topics returns the distinct topics events may be published to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		out = append(out, desc.Topic)
	}
	return out
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
