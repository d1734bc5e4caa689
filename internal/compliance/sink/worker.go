// Package sink streams compliance_logged events from Pub/Sub into BigQuery.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	bq "cloud.google.com/go/bigquery"

	"github.com/mercato/mercato-backend/pkg/bigquery"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

const consumerName = "compliance-bq"

type rowWriter interface {
	InsertCompliance(ctx context.Context, rows []bigquery.ComplianceRow) error
}

type claimRunner interface {
	Run(ctx context.Context, consumer, id string, fn func(context.Context) error) (bool, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type Service struct {
	subscription receiver
	writer       rowWriter
	claims       claimRunner
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(subscription receiver, writer rowWriter, claims claimRunner, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("compliance subscription is required")
	}
	if writer == nil {
		return nil, errors.New("bigquery writer is required")
	}
	if claims == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		writer:       writer,
		claims:       claims,
		logg:         logg,
		now:          time.Now,
	}, nil
}

// Run consumes until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message should be redelivered. Malformed
// messages are acked and logged since a retry cannot fix them.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	fields := map[string]any{"message_id": msg.ID}
	logCtx := s.logg.WithFields(ctx, fields)

	eventType := strings.TrimSpace(msg.Attributes["event_type"])
	if eventType != string(enums.EventComplianceLogged) {
		s.logg.Warn(s.logg.WithField(logCtx, "event_type", eventType), "unexpected event on compliance subscription")
		return false
	}

	envelopeID, row, err := decode(msg.Data)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid compliance envelope")
		return false
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":    envelopeID,
		"log_id":      row.LogID,
		"entity_type": row.EntityType,
	})
	row.IngestedAt = bq.NullTimestamp{Timestamp: s.now().UTC(), Valid: true}

	ran, err := s.claims.Run(logCtx, consumerName, envelopeID, func(ctx context.Context) error {
		return s.writer.InsertCompliance(ctx, []bigquery.ComplianceRow{row})
	})
	if err != nil {
		s.logg.Error(logCtx, "compliance row insert failed", err)
		return true
	}
	if !ran {
		s.logg.Info(logCtx, "compliance event already ingested")
		return false
	}
	s.logg.Info(logCtx, "compliance event ingested")
	return false
}

func decode(data []byte) (string, bigquery.ComplianceRow, error) {
	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		return "", bigquery.ComplianceRow{}, err
	}
	var event payloads.ComplianceLoggedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return "", bigquery.ComplianceRow{}, fmt.Errorf("decode compliance payload: %w", err)
	}
	return envelope.EventID, ToRow(envelope.EventID, event), nil
}

// ToRow maps the event onto the warehouse row.
func ToRow(eventID string, event payloads.ComplianceLoggedEvent) bigquery.ComplianceRow {
	row := bigquery.ComplianceRow{
		LogID:      event.LogID.String(),
		EventID:    eventID,
		ActorRole:  string(event.ActorRole),
		Action:     event.Action,
		EntityType: string(event.EntityType),
		EntityID:   event.EntityID.String(),
		Reason:     nullString(event.Reason),
		RequestID:  nullString(event.RequestID),
		CreatedAt:  event.CreatedAt.UTC(),
	}
	if event.ActorUserID != nil {
		row.ActorUserID = nullString(event.ActorUserID.String())
	}
	if len(event.BeforeState) > 0 {
		row.BeforeState = bq.NullJSON{JSONVal: string(event.BeforeState), Valid: true}
	}
	if len(event.AfterState) > 0 {
		row.AfterState = bq.NullJSON{JSONVal: string(event.AfterState), Valid: true}
	}
	return row
}

func nullString(value string) bq.NullString {
	return bq.NullString{StringVal: value, Valid: value != ""}
}
