package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Entry describes one financial state change. Before and After are
// marshalled as JSON snapshots.
type Entry struct {
	Actor      *outbox.ActorRef
	Action     string
	EntityType enums.ComplianceEntity
	EntityID   uuid.UUID
	Before     any
	After      any
	Reason     string
}

// Recorder is the write side other services depend on.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.ComplianceLog, error)
}

type Service interface {
	Recorder
	List(ctx context.Context, entityType enums.ComplianceEntity, entityID uuid.UUID, params pagination.Params) (pagination.Page[models.ComplianceLog], error)
}

type service struct {
	repo   Repository
	outbox outboxPublisher
	now    func() time.Time
}

func NewService(repo Repository, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("compliance repository required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, outbox: outbox, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.ComplianceLog, error) {
	if tx == nil {
		return nil, fmt.Errorf("compliance record requires a transaction")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return nil, fmt.Errorf("compliance action required")
	}
	if !entry.EntityType.IsValid() {
		return nil, fmt.Errorf("invalid compliance entity %q", entry.EntityType)
	}
	if entry.EntityID == uuid.Nil {
		return nil, fmt.Errorf("compliance entity id required")
	}
	actor := entry.Actor
	if actor == nil {
		actor = outbox.SystemActor()
	}

	before, err := snapshot(entry.Before)
	if err != nil {
		return nil, err
	}
	after, err := snapshot(entry.After)
	if err != nil {
		return nil, err
	}

	row := &models.ComplianceLog{
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Before:      before,
		After:       after,
		Reason:      optional(entry.Reason),
		RequestID:   optional(logger.RequestID(ctx)),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, fmt.Errorf("insert compliance log: %w", err)
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventComplianceLogged,
		AggregateType: enums.AggregateComplianceLog,
		AggregateID:   row.ID,
		Actor:         actor,
		OccurredAt:    row.CreatedAt,
		Data: payloads.ComplianceLoggedEvent{
			LogID:       row.ID,
			ActorUserID: row.ActorUserID,
			ActorRole:   row.ActorRole,
			Action:      row.Action,
			EntityType:  row.EntityType,
			EntityID:    row.EntityID,
			BeforeState: row.Before,
			AfterState:  row.After,
			Reason:      entry.Reason,
			RequestID:   logger.RequestID(ctx),
			CreatedAt:   row.CreatedAt,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) List(ctx context.Context, entityType enums.ComplianceEntity, entityID uuid.UUID, params pagination.Params) (pagination.Page[models.ComplianceLog], error) {
	if !entityType.IsValid() {
		return pagination.Page[models.ComplianceLog]{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown entity type %q", entityType)
	}
	if entityID == uuid.Nil {
		return pagination.Page[models.ComplianceLog]{}, pkgerrors.New(pkgerrors.CodeValidation, "entity id required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.ComplianceLog]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByEntity(ctx, entityType, entityID, params)
	if err != nil {
		return pagination.Page[models.ComplianceLog]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list compliance logs")
	}
	return pagination.Build(rows, params.Limit, func(row models.ComplianceLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}

func snapshot(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal compliance snapshot: %w", err)
	}
	return raw, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
