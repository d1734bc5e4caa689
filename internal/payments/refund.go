package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

// RefundInput describes money returned to the buyer for one sub-order.
type RefundInput struct {
	SubOrderID  uuid.UUID
	AmountCents int64
	Reason      string
	ReturnID    *uuid.UUID
	Actor       *outbox.ActorRef
}

const (
	// refundRetryGrace keeps the retry job away from refunds whose first
	// provider call may still be running.
	refundRetryGrace  = 2 * time.Minute
	maxRefundAttempts = 20
)

// Refund records a pending refund and settles it with the provider.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	var refund *models.Refund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		refund, err = s.PrepareRefund(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.SettleRefund(ctx, refund.ID, input.Actor)
}

// PrepareRefund validates against the escrow and records a pending refund in
// the caller's transaction. Until it settles, the amount counts against the
// escrow balance and the escrow cannot be released.
func (s *service) PrepareRefund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Refund, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}

	repo := s.repo.WithTx(tx)
	sub, err := s.states.Repo(tx).LockSubOrder(ctx, input.SubOrderID)
	if err != nil {
		return nil, mapNotFound(err, "sub-order")
	}
	payment, err := repo.LockByOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, mapNotFound(err, "payment")
	}
	if !payment.Status.Refundable() {
		if payment.Status == enums.PaymentStatusRefunded {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already fully refunded")
		}
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment is %s and cannot be refunded", payment.Status)
	}

	inFlight, err := repo.SumPendingRefunds(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum pending refunds")
	}
	if _, err := s.escrow.CheckRefundable(ctx, tx, sub.ID, input.AmountCents+inFlight); err != nil {
		return nil, err
	}
	if input.AmountCents > payment.RefundableCents()-inFlight {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds captured amount").
			WithDetails(map[string]any{"refundable_cents": payment.RefundableCents() - inFlight})
	}

	refund := &models.Refund{
		SubOrderID:  sub.ID,
		OrderID:     sub.OrderID,
		StoreID:     sub.StoreID,
		PaymentID:   payment.ID,
		ReturnID:    input.ReturnID,
		Provider:    payment.Provider,
		AmountCents: input.AmountCents,
		Reason:      input.Reason,
		Status:      enums.RefundStatusPending,
	}
	if err := repo.CreateRefund(ctx, refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
	}
	return refund, nil
}

// SettleRefund sends an unsettled refund to the provider and applies it. The
// refund id is the provider idempotency key, so settling again after a crash
// or a timeout cannot pay the buyer twice.
func (s *service) SettleRefund(ctx context.Context, refundID uuid.UUID, actor *outbox.ActorRef) (*models.Refund, error) {
	actor = actorOrSystem(actor)
	refund, err := s.repo.FindRefund(ctx, refundID)
	if err != nil {
		return nil, mapNotFound(err, "refund")
	}
	if refund.AppliedAt != nil {
		return refund, nil
	}
	if refund.Status != enums.RefundStatusPending {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "refund is %s", refund.Status)
	}
	payment, err := s.repo.FindByOrder(ctx, refund.OrderID)
	if err != nil {
		return nil, mapNotFound(err, "payment")
	}

	ctx = s.logg.WithSubOrder(ctx, refund.SubOrderID.String())
	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, s.refundFailed(ctx, refund, err, actor)
	}
	ref := ""
	if payment.ProviderRef != nil {
		ref = *payment.ProviderRef
	}
	started := time.Now()
	res, err := provider.Refund(ctx, RefundRequest{
		ProviderRef:    ref,
		AmountCents:    refund.AmountCents,
		Currency:       payment.Currency,
		Reason:         refund.Reason,
		IdempotencyKey: refund.ID.String(),
	})
	s.metrics.ObserveCall(string(payment.Provider), "refund", started, err)
	if err != nil {
		return nil, s.refundFailed(ctx, refund, err, actor)
	}
	if res.Status == enums.RefundStatusFailed {
		return nil, s.refundFailed(ctx, refund, pkgerrors.New(pkgerrors.CodePaymentDeclined, "provider rejected refund"), actor)
	}

	var applied *models.Refund
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		applied, err = s.applyRefund(ctx, tx, refund.ID, res, actor)
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "refund accepted by provider but not applied", err)
		return nil, err
	}
	return applied, nil
}

// RetryRefund settles a cancellation refund now instead of waiting for the
// retry job. Return refunds are retried through their return.
func (s *service) RetryRefund(ctx context.Context, refundID uuid.UUID, actor *outbox.ActorRef) (*models.Refund, error) {
	refund, err := s.repo.FindRefund(ctx, refundID)
	if err != nil {
		return nil, mapNotFound(err, "refund")
	}
	if !refund.BacksCancellation() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "return refunds are retried through the return")
	}
	return s.SettleRefund(ctx, refundID, actor)
}

// SettleCancellationRefunds retries cancellation refunds the provider has not
// accepted yet and reports how many settled.
func (s *service) SettleCancellationRefunds(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.repo.ListUnsettledCancellationRefunds(ctx, now.UTC().Add(-refundRetryGrace), maxRefundAttempts, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unsettled refunds")
	}
	var (
		settled int
		errs    error
	)
	for _, id := range ids {
		if _, err := s.SettleRefund(ctx, id, outbox.SystemActor()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", id, err))
			continue
		}
		settled++
	}
	return settled, errs
}

// refundFailed records a failed settle attempt. A refund that backs a
// cancellation, or that failed transiently, stays pending for another
// attempt. Anything else is marked failed and its return stays open.
func (s *service) refundFailed(ctx context.Context, refund *models.Refund, cause error, actor *outbox.ActorRef) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"refund_id": refund.ID.String(),
		"attempt":   refund.Attempts + 1,
	})
	s.logg.Error(ctx, "provider refund failed", cause)
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if refund.BacksCancellation() || pkgerrors.IsRetryable(cause) {
			return s.repo.WithTx(tx).UpdateRefund(ctx, refund.ID, map[string]any{
				"attempts":       gorm.Expr("attempts + 1"),
				"failure_reason": cause.Error(),
			})
		}
		return s.markRefundFailed(ctx, tx, refund.ID, cause.Error(), actor)
	})
	if txErr != nil {
		s.logg.Error(ctx, "record refund failure", txErr)
	}
	return cause
}

func (s *service) markRefundFailed(ctx context.Context, tx *gorm.DB, refundID uuid.UUID, reason string, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	refund, err := repo.LockRefund(ctx, refundID)
	if err != nil {
		return mapNotFound(err, "refund")
	}
	if refund.Status == enums.RefundStatusFailed {
		return nil
	}
	if err := repo.UpdateRefund(ctx, refund.ID, map[string]any{
		"status":         enums.RefundStatusFailed,
		"failure_reason": reason,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail refund")
	}
	entryReason := reason
	if refund.AppliedAt != nil {
		entryReason = "refund failed after being applied; manual reconciliation required: " + reason
	}
	_, err = s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "refund.failed",
		EntityType: enums.ComplianceEntityRefund,
		EntityID:   refund.ID,
		Before:     map[string]any{"status": refund.Status},
		After:      map[string]any{"status": enums.RefundStatusFailed},
		Reason:     entryReason,
	})
	return err
}

// applyRefund moves the money for an accepted refund. It runs once per
// refund; AppliedAt guards replays.
func (s *service) applyRefund(ctx context.Context, tx *gorm.DB, refundID uuid.UUID, res *RefundResult, actor *outbox.ActorRef) (*models.Refund, error) {
	repo := s.repo.WithTx(tx)
	refund, err := repo.LockRefund(ctx, refundID)
	if err != nil {
		return nil, mapNotFound(err, "refund")
	}
	if refund.AppliedAt != nil {
		return refund, nil
	}
	payment, err := repo.LockByID(ctx, refund.PaymentID)
	if err != nil {
		return nil, mapNotFound(err, "payment")
	}
	states := s.states.Repo(tx)
	sub, err := states.LockSubOrder(ctx, refund.SubOrderID)
	if err != nil {
		return nil, mapNotFound(err, "sub-order")
	}
	held, err := s.escrow.CheckRefundable(ctx, tx, sub.ID, refund.AmountCents)
	if err != nil {
		return nil, err
	}

	// The refund that empties the escrow reverses whatever commission is left.
	funded := held.AmountCents
	if held.RemainingCents() == refund.AmountCents {
		funded = refund.AmountCents
	}
	reversal, err := s.commissions.Reverse(ctx, tx, commissions.ReverseInput{
		SubOrderID:    sub.ID,
		StoreID:       sub.StoreID,
		OrderID:       sub.OrderID,
		RefundID:      refund.ID,
		Currency:      payment.Currency,
		RefundedCents: refund.AmountCents,
		FundedCents:   funded,
	})
	if err != nil {
		return nil, err
	}
	var reversed int64
	if reversal != nil {
		reversed = reversal.AmountCents
	}
	debited, err := s.escrow.Debit(ctx, tx, escrow.DebitInput{
		SubOrderID:              sub.ID,
		AmountCents:             refund.AmountCents,
		CommissionReversedCents: reversed,
	})
	if err != nil {
		return nil, err
	}

	refundedTotal := payment.RefundedCents + refund.AmountCents
	paymentStatus := enums.PaymentStatusPartiallyRefunded
	if refundedTotal >= payment.CapturedCents {
		paymentStatus = enums.PaymentStatusRefunded
	}
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"refunded_cents": refundedTotal,
		"status":         paymentStatus,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment refund total")
	}

	if err := states.UpdateSubOrder(ctx, sub.ID, map[string]any{"refunded_cents": sub.RefundedCents + refund.AmountCents}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub-order refund total")
	}
	if debited.Status == enums.EscrowStatusRefunded && orderstate.CanTransition(sub.Status, enums.SubOrderStatusRefunded) {
		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
			To:     enums.SubOrderStatusRefunded,
			Actor:  actor,
			Reason: refund.Reason,
		}); err != nil {
			return nil, err
		}
	}
	if _, err := s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":     res.Status,
		"applied_at": now,
	}
	if res.ProviderRef != "" {
		updates["provider_ref"] = res.ProviderRef
		refund.ProviderRef = &res.ProviderRef
	}
	if res.Status == enums.RefundStatusSucceeded {
		updates["succeeded_at"] = now
		refund.SucceededAt = &now
	}
	if err := repo.UpdateRefund(ctx, refund.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refund")
	}
	before := refund.Status
	refund.Status = res.Status
	refund.AppliedAt = &now

	orderID, storeID := sub.OrderID, sub.StoreID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:     &orderID,
		SubOrderID:  &sub.ID,
		StoreID:     &storeID,
		ReferenceID: &refund.ID,
		ActorUserID: actor.UserID,
		Type:        enums.LedgerEventTypeRefundIssued,
		AmountCents: refund.AmountCents,
		Currency:    payment.Currency,
		Metadata:    map[string]any{"reason": refund.Reason, "commission_reversed_cents": reversed},
	}); err != nil {
		return nil, err
	}
	if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "refund.issued",
		EntityType: enums.ComplianceEntityRefund,
		EntityID:   refund.ID,
		Before:     map[string]any{"status": before},
		After: map[string]any{
			"status":                 refund.Status,
			"amount_cents":           refund.AmountCents,
			"escrow_remaining_cents": debited.RemainingCents(),
			"payment_refunded_cents": refundedTotal,
		},
		Reason: refund.Reason,
	}); err != nil {
		return nil, err
	}
	s.metrics.AddAmount("refunded", payment.Currency, refund.AmountCents)
	return refund, s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundIssued,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		Data: payloads.RefundIssuedEvent{
			RefundID:    refund.ID,
			PaymentID:   payment.ID,
			SubOrderID:  sub.ID,
			StoreID:     sub.StoreID,
			ReturnID:    refund.ReturnID,
			AmountCents: refund.AmountCents,
			Currency:    payment.Currency,
		},
	})
}
