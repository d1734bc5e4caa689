package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// EnvelopeVersion is stamped on every row written by Emit. Consumers reject
// anything newer than they understand.
const EnvelopeVersion = 1

var (
	ErrEnvelopeVersion = errors.New("unsupported envelope version")
	ErrEnvelopeData    = errors.New("envelope data missing")
)

// ActorRef identifies who caused a state change.
type ActorRef struct {
	UserID  *uuid.UUID      `json:"userId,omitempty"`
	StoreID *uuid.UUID      `json:"storeId,omitempty"`
	Role    enums.ActorRole `json:"role"`
}

// SystemActor is used for scheduler and webhook driven transitions.
func SystemActor() *ActorRef {
	return &ActorRef{Role: enums.ActorRoleSystem}
}

// IsSystem reports whether no human is behind the change.
func (a *ActorRef) IsSystem() bool {
	return a == nil || a.Role == enums.ActorRoleSystem
}

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and published verbatim to subscribers.
type PayloadEnvelope struct {
	Version    int                   `json:"version"`
	EventID    string                `json:"eventId"`
	EventType  enums.OutboxEventType `json:"eventType"`
	OccurredAt time.Time             `json:"occurredAt"`
	Actor      *ActorRef             `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses a stored or published payload and checks the fields
// every consumer relies on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("%w: %d", ErrEnvelopeVersion, env.Version)
	}
	if strings.TrimSpace(env.EventID) == "" {
		return PayloadEnvelope{}, errors.New("envelope event id missing")
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PayloadEnvelope{}, fmt.Errorf("%w for %s", ErrEnvelopeData, env.EventType)
	}
	return env, nil
}
