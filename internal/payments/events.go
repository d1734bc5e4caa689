package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// EventKind is the provider-neutral meaning of a webhook delivery.
type EventKind string

const (
	EventKindAuthorized          EventKind = "authorized"
	EventKindAuthorizationFailed EventKind = "authorization_failed"
	EventKindCaptured            EventKind = "captured"
	EventKindVoided              EventKind = "voided"
	EventKindRefundSucceeded     EventKind = "refund_succeeded"
	EventKindRefundFailed        EventKind = "refund_failed"
	EventKindUnknown             EventKind = "unknown"
)

// ProviderEvent is a webhook delivery already verified and decoded by the
// provider-specific handler.
type ProviderEvent struct {
	Provider      enums.PaymentProvider
	EventID       string
	Type          string
	Kind          EventKind
	PaymentRef    string
	RefundRef     string
	AmountCents   int64
	FailureReason string
	Payload       json.RawMessage
}

var errDuplicateEvent = errors.New("duplicate provider event")

// HandleProviderEvent applies a webhook at most once per (provider, event id).
// It reports whether the event changed anything; duplicates and unknown
// references are acknowledged without error.
func (s *service) HandleProviderEvent(ctx context.Context, event ProviderEvent) (bool, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "provider event id required")
	}
	if !event.Provider.IsValid() {
		return false, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown payment provider %q", event.Provider)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":   event.Provider,
		"event_id":   event.EventID,
		"event_type": event.Type,
	})
	actor := outbox.SystemActor()

	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, refund, err := s.lookupEventTarget(ctx, repo, event)
		if err != nil {
			return err
		}

		record := &models.PaymentEvent{
			Provider:        event.Provider,
			ProviderEventID: event.EventID,
			EventType:       event.Type,
			Payload:         event.Payload,
			ProcessedAt:     s.now().UTC(),
		}
		if payment != nil {
			record.PaymentID = &payment.ID
		}
		if err := repo.CreateEvent(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errDuplicateEvent
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
		}

		if event.Kind == EventKindUnknown || event.Kind == "" {
			s.logg.Info(ctx, "ignoring unhandled payment event")
			return nil
		}
		if payment == nil {
			s.logg.Warn(ctx, "payment event references no known payment")
			return nil
		}

		applied = true
		switch event.Kind {
		case EventKindAuthorized:
			return s.applyAuthorized(ctx, tx, payment.ID, &Result{ProviderRef: event.PaymentRef, AmountCents: event.AmountCents}, actor)
		case EventKindAuthorizationFailed:
			return s.applyFailed(ctx, tx, payment.ID, event.FailureReason, actor)
		case EventKindVoided:
			return s.applyVoided(ctx, tx, payment.ID, "authorization cancelled by provider", actor)
		case EventKindCaptured:
			return s.applyCaptured(ctx, tx, payment.ID, event.AmountCents, actor)
		case EventKindRefundSucceeded:
			return s.confirmRefund(ctx, tx, refund)
		case EventKindRefundFailed:
			if refund == nil {
				s.logg.Warn(ctx, "refund failure for unknown refund")
				return nil
			}
			s.logg.Error(ctx, "provider reported refund failure", errors.New(event.FailureReason))
			if refund.Unsettled() && refund.BacksCancellation() {
				return repo.UpdateRefund(ctx, refund.ID, map[string]any{
					"attempts":       gorm.Expr("attempts + 1"),
					"failure_reason": event.FailureReason,
				})
			}
			return s.markRefundFailed(ctx, tx, refund.ID, event.FailureReason, actor)
		}
		return nil
	})
	if errors.Is(err, errDuplicateEvent) {
		s.metrics.IncWebhook(string(event.Provider), "duplicate")
		return false, nil
	}
	if err != nil {
		s.metrics.IncWebhook(string(event.Provider), "error")
		return false, err
	}
	s.metrics.IncWebhook(string(event.Provider), "processed")
	return applied, nil
}

func (s *service) lookupEventTarget(ctx context.Context, repo Repository, event ProviderEvent) (*models.PaymentTransaction, *models.Refund, error) {
	var refund *models.Refund
	if event.RefundRef != "" {
		found, err := repo.FindRefundByProviderRef(ctx, event.Provider, event.RefundRef)
		switch {
		case err == nil:
			refund = found
			payment, err := repo.LockByID(ctx, found.PaymentID)
			if err != nil {
				return nil, nil, mapNotFound(err, "payment")
			}
			return payment, refund, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
		}
	}
	if event.PaymentRef == "" {
		return nil, refund, nil
	}
	payment, err := repo.FindByProviderRef(ctx, event.Provider, event.PaymentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, refund, nil
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, refund, nil
}

func (s *service) confirmRefund(ctx context.Context, tx *gorm.DB, refund *models.Refund) error {
	if refund == nil || refund.Status != enums.RefundStatusPending || refund.AppliedAt == nil {
		return nil
	}
	now := s.now().UTC()
	return s.repo.WithTx(tx).UpdateRefund(ctx, refund.ID, map[string]any{
		"status":       enums.RefundStatusSucceeded,
		"succeeded_at": now,
	})
}
