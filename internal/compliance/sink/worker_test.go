package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/pkg/bigquery"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/idempotency"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

type mapStore struct {
	keys map[string]string
}

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	return m.keys[key], nil
}

func (m *mapStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value.(string)
	return true, nil
}

func (m *mapStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *mapStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type fakeWriter struct {
	rows []bigquery.ComplianceRow
	err  error
}

func (f *fakeWriter) InsertCompliance(_ context.Context, rows []bigquery.ComplianceRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

type noReceive struct{}

func (noReceive) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newService(t *testing.T, writer *fakeWriter) *Service {
	t.Helper()
	manager, err := idempotency.NewManager(&mapStore{keys: map[string]string{}}, time.Hour)
	require.NoError(t, err)
	svc, err := NewService(noReceive{}, writer, manager, logger.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func message(t *testing.T, eventID string, event payloads.ComplianceLoggedEvent) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		EventType:  enums.EventComplianceLogged,
		OccurredAt: event.CreatedAt,
		Data:       data,
	})
	require.NoError(t, err)
	return &gcppubsub.Message{
		ID:         "msg-" + eventID,
		Data:       raw,
		Attributes: map[string]string{"event_type": string(enums.EventComplianceLogged)},
	}
}

func sampleEvent() payloads.ComplianceLoggedEvent {
	actor := uuid.New()
	return payloads.ComplianceLoggedEvent{
		LogID:       uuid.New(),
		ActorUserID: &actor,
		ActorRole:   enums.ActorRoleAdmin,
		Action:      "escrow.hold",
		EntityType:  enums.ComplianceEntityEscrow,
		EntityID:    uuid.New(),
		AfterState:  json.RawMessage(`{"status":"held"}`),
		Reason:      "chargeback review",
		CreatedAt:   time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcessInsertsOncePerEvent(t *testing.T) {
	writer := &fakeWriter{}
	svc := newService(t, writer)
	event := sampleEvent()
	msg := message(t, "evt-1", event)

	assert.False(t, svc.process(context.Background(), msg))
	assert.False(t, svc.process(context.Background(), msg))

	require.Len(t, writer.rows, 1)
	row := writer.rows[0]
	assert.Equal(t, event.LogID.String(), row.LogID)
	assert.Equal(t, "evt-1", row.EventID)
	assert.Equal(t, "escrow.hold", row.Action)
	assert.True(t, row.ActorUserID.Valid)
	assert.False(t, row.BeforeState.Valid)
	assert.Equal(t, `{"status":"held"}`, row.AfterState.JSONVal)
	assert.False(t, row.RequestID.Valid)
	assert.True(t, row.IngestedAt.Valid)
}

func TestProcessNacksAndReleasesOnInsertFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("quota exceeded")}
	svc := newService(t, writer)
	msg := message(t, "evt-2", sampleEvent())

	assert.True(t, svc.process(context.Background(), msg))

	writer.err = nil
	assert.False(t, svc.process(context.Background(), msg))
	assert.Len(t, writer.rows, 1)
}

func TestProcessAcksMalformedMessages(t *testing.T) {
	writer := &fakeWriter{}
	svc := newService(t, writer)

	wrongType := &gcppubsub.Message{Data: []byte(`{}`), Attributes: map[string]string{"event_type": "order_created"}}
	assert.False(t, svc.process(context.Background(), wrongType))

	garbage := &gcppubsub.Message{Data: []byte(`not json`), Attributes: map[string]string{"event_type": string(enums.EventComplianceLogged)}}
	assert.False(t, svc.process(context.Background(), garbage))

	assert.Empty(t, writer.rows)
}

func TestToRowWithoutActor(t *testing.T) {
	event := sampleEvent()
	event.ActorUserID = nil
	event.ActorRole = enums.ActorRoleSystem
	row := ToRow("evt-3", event)
	assert.False(t, row.ActorUserID.Valid)
	assert.Equal(t, string(enums.ActorRoleSystem), row.ActorRole)
}
