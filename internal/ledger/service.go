package ledger

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
)

// Service records money movements. Writes always join the caller's transaction.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	StoreTotals(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]TypeTotal, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID     *uuid.UUID            `json:"order_id,omitempty"`
	SubOrderID  *uuid.UUID            `json:"sub_order_id,omitempty"`
	StoreID     *uuid.UUID            `json:"store_id,omitempty"`
	ReferenceID *uuid.UUID            `json:"reference_id,omitempty"`
	ActorUserID *uuid.UUID            `json:"actor_user_id,omitempty"`
	Type        enums.LedgerEventType `json:"type"`
	AmountCents int64                 `json:"amount_cents"`
	Currency    string                `json:"currency"`
	Metadata    map[string]any        `json:"metadata,omitempty"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.OrderID == nil && input.StoreID == nil {
		return nil, fmt.Errorf("ledger event needs an order or a store")
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}
	if len(strings.TrimSpace(input.Currency)) != 3 {
		return nil, fmt.Errorf("ledger currency is required")
	}

	event := &models.LedgerEvent{
		OrderID:     input.OrderID,
		SubOrderID:  input.SubOrderID,
		StoreID:     input.StoreID,
		ReferenceID: input.ReferenceID,
		ActorUserID: input.ActorUserID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Currency:    strings.ToUpper(input.Currency),
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal ledger metadata: %w", err)
		}
		event.Metadata = raw
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}

// StoreTotals sums a store's movements per type and currency over [from, to).
func (s *service) StoreTotals(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]TypeTotal, error) {
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("store id is required")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("period end must be after start")
	}
	return s.repo.TotalsByStore(ctx, storeID, from.UTC(), to.UTC())
}
