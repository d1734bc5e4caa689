package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// FundInput moves a pending escrow to held at capture time.
type FundInput struct {
	SubOrderID      uuid.UUID
	AmountCents     int64
	CommissionCents int64
}

// DebitInput records a refund against a funded escrow.
type DebitInput struct {
	SubOrderID              uuid.UUID
	AmountCents             int64
	CommissionReversedCents int64
}

// Ledger is the transactional surface used by checkout and payments.
type Ledger interface {
	CreatePending(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, currency string) (*models.EscrowTransaction, error)
	Fund(ctx context.Context, tx *gorm.DB, input FundInput) (*models.EscrowTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.EscrowTransaction, error)
	Cancel(ctx context.Context, tx *gorm.DB, subOrderID uuid.UUID) error
	CheckRefundable(ctx context.Context, tx *gorm.DB, subOrderID uuid.UUID, amountCents int64) (*models.EscrowTransaction, error)
}

type Service interface {
	Ledger
	Get(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error)
	Release(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.EscrowTransaction, error)
	ReleaseEligible(ctx context.Context, now time.Time, limit int) (int, error)
	Hold(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, reason string) error
	Unhold(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) error
}

type service struct {
	repo         Repository
	tx           txRunner
	states       orderstate.Service
	ledger       ledger.Service
	compliance   compliance.Recorder
	outbox       outboxPublisher
	logg         *logger.Logger
	returnWindow time.Duration
	now          func() time.Time
}

// ServiceParams groups the escrow service dependencies.
type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	States       orderstate.Service
	Ledger       ledger.Service
	Compliance   compliance.Recorder
	Outbox       outboxPublisher
	Logger       *logger.Logger
	ReturnWindow time.Duration
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("escrow repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.States == nil:
		return nil, fmt.Errorf("order state service required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.ReturnWindow < 0:
		return nil, fmt.Errorf("return window must not be negative")
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		states:       params.States,
		ledger:       params.Ledger,
		compliance:   params.Compliance,
		outbox:       params.Outbox,
		logg:         params.Logger,
		returnWindow: params.ReturnWindow,
		now:          time.Now,
	}, nil
}

func (s *service) load(ctx context.Context, repo Repository, subOrderID uuid.UUID, lock bool) (*models.EscrowTransaction, error) {
	var (
		escrow *models.EscrowTransaction
		err    error
	)
	if lock {
		escrow, err = repo.LockBySubOrder(ctx, subOrderID)
	} else {
		escrow, err = repo.FindBySubOrder(ctx, subOrderID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow")
	}
	return escrow, nil
}

func (s *service) Get(ctx context.Context, subOrderID uuid.UUID) (*models.EscrowTransaction, error) {
	return s.load(ctx, s.repo, subOrderID, false)
}

func (s *service) CreatePending(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, currency string) (*models.EscrowTransaction, error) {
	escrow := &models.EscrowTransaction{
		SubOrderID: sub.ID,
		OrderID:    sub.OrderID,
		StoreID:    sub.StoreID,
		Status:     enums.EscrowStatusPending,
		Currency:   currency,
	}
	if err := s.repo.WithTx(tx).Create(ctx, escrow); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow")
	}
	return escrow, nil
}

func (s *service) Fund(ctx context.Context, tx *gorm.DB, input FundInput) (*models.EscrowTransaction, error) {
	repo := s.repo.WithTx(tx)
	escrow, err := s.load(ctx, repo, input.SubOrderID, true)
	if err != nil {
		return nil, err
	}
	if escrow.Status.IsFunded() && escrow.AmountCents == input.AmountCents {
		return escrow, nil
	}
	if escrow.Status != enums.EscrowStatusPending {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "escrow is %s and cannot be funded", escrow.Status)
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "escrow funding must be positive")
	}
	now := s.now().UTC()
	updates := map[string]any{
		"status":           enums.EscrowStatusHeld,
		"amount_cents":     input.AmountCents,
		"commission_cents": input.CommissionCents,
		"funded_at":        now,
	}
	if err := repo.Update(ctx, escrow.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fund escrow")
	}
	escrow.Status = enums.EscrowStatusHeld
	escrow.AmountCents = input.AmountCents
	escrow.CommissionCents = input.CommissionCents
	escrow.FundedAt = &now
	return escrow, nil
}

// CheckRefundable validates a refund of amountCents against the escrow
// without changing it.
func (s *service) CheckRefundable(ctx context.Context, tx *gorm.DB, subOrderID uuid.UUID, amountCents int64) (*models.EscrowTransaction, error) {
	escrow, err := s.load(ctx, s.repo.WithTx(tx), subOrderID, tx != nil)
	if err != nil {
		return nil, err
	}
	return escrow, checkRefundable(escrow, amountCents)
}

func checkRefundable(escrow *models.EscrowTransaction, amountCents int64) error {
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if escrow.Status == enums.EscrowStatusReleased {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow cannot be refunded once released").
			WithDetails(map[string]any{"escrow_id": escrow.ID, "status": escrow.Status})
	}
	if !escrow.Status.IsFunded() {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "escrow is %s and holds no funds", escrow.Status).
			WithDetails(map[string]any{"escrow_id": escrow.ID, "status": escrow.Status})
	}
	if amountCents > escrow.RemainingCents() {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds escrow balance").
			WithDetails(map[string]any{"remaining_cents": escrow.RemainingCents(), "requested_cents": amountCents})
	}
	return nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.EscrowTransaction, error) {
	repo := s.repo.WithTx(tx)
	escrow, err := s.load(ctx, repo, input.SubOrderID, true)
	if err != nil {
		return nil, err
	}
	if err := checkRefundable(escrow, input.AmountCents); err != nil {
		return nil, err
	}

	escrow.RefundedCents += input.AmountCents
	escrow.CommissionReversedCents += input.CommissionReversedCents
	escrow.Status = enums.EscrowStatusPartiallyRefunded
	if escrow.RemainingCents() == 0 {
		escrow.Status = enums.EscrowStatusRefunded
	}
	if err := repo.Update(ctx, escrow.ID, map[string]any{
		"status":                    escrow.Status,
		"refunded_cents":            escrow.RefundedCents,
		"commission_reversed_cents": escrow.CommissionReversedCents,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit escrow")
	}
	return escrow, nil
}

func (s *service) Cancel(ctx context.Context, tx *gorm.DB, subOrderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	escrow, err := s.load(ctx, repo, subOrderID, true)
	if err != nil {
		return err
	}
	switch escrow.Status {
	case enums.EscrowStatusCancelled:
		return nil
	case enums.EscrowStatusPending:
	default:
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "escrow is %s and cannot be cancelled", escrow.Status)
	}
	now := s.now().UTC()
	if err := repo.Update(ctx, escrow.ID, map[string]any{
		"status":       enums.EscrowStatusCancelled,
		"cancelled_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel escrow")
	}
	return nil
}

// releaseBlocker explains why an escrow cannot be released yet, or returns "".
func (s *service) releaseBlocker(ctx context.Context, repo Repository, escrow *models.EscrowTransaction, sub *models.SellerSubOrder, now time.Time) (string, error) {
	if sub.Status != enums.SubOrderStatusDelivered {
		return fmt.Sprintf("sub-order is %s, not delivered", sub.Status), nil
	}
	if sub.DeliveredAt == nil || now.Before(sub.DeliveredAt.Add(s.returnWindow)) {
		return "return window has not elapsed", nil
	}
	if escrow.OnHold {
		return "escrow is on hold", nil
	}
	if !escrow.Status.IsFunded() || escrow.RemainingCents() <= 0 {
		return fmt.Sprintf("escrow is %s with no balance to release", escrow.Status), nil
	}
	open, err := repo.CountOpenReturns(ctx, sub.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open returns")
	}
	if open > 0 {
		return "a return request is open", nil
	}
	settling, err := repo.CountUnsettledRefunds(ctx, sub.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unsettled refunds")
	}
	if settling > 0 {
		return "a refund is still settling", nil
	}
	return "", nil
}

func (s *service) Release(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.EscrowTransaction, error) {
	if actor == nil {
		actor = outbox.SystemActor()
	}
	var released *models.EscrowTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		escrow, err := s.load(ctx, repo, subOrderID, true)
		if err != nil {
			return err
		}
		if escrow.Status == enums.EscrowStatusReleased {
			released = escrow
			return nil
		}
		sub, err := s.states.Repo(tx).LockSubOrder(ctx, subOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub-order")
		}

		now := s.now().UTC()
		blocker, err := s.releaseBlocker(ctx, repo, escrow, sub, now)
		if err != nil {
			return err
		}
		if blocker != "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow not releasable: "+blocker).
				WithDetails(map[string]any{"sub_order_id": subOrderID, "reason": blocker})
		}

		before := escrow.Status
		if err := repo.Update(ctx, escrow.ID, map[string]any{
			"status":      enums.EscrowStatusReleased,
			"released_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow")
		}
		escrow.Status = enums.EscrowStatusReleased
		escrow.ReleasedAt = &now

		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
			To:     enums.SubOrderStatusCompleted,
			Actor:  actor,
			Reason: "escrow released",
		}); err != nil {
			return err
		}
		if _, err := s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor); err != nil {
			return err
		}

		orderID, storeID := escrow.OrderID, escrow.StoreID
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:     &orderID,
			SubOrderID:  &sub.ID,
			StoreID:     &storeID,
			ReferenceID: &escrow.ID,
			ActorUserID: actor.UserID,
			Type:        enums.LedgerEventTypeEscrowReleased,
			AmountCents: escrow.NetCents(),
			Currency:    escrow.Currency,
			Metadata: map[string]any{
				"funded_cents":     escrow.AmountCents,
				"refunded_cents":   escrow.RefundedCents,
				"commission_cents": escrow.CommissionCents - escrow.CommissionReversedCents,
			},
		}); err != nil {
			return err
		}
		if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     "escrow.released",
			EntityType: enums.ComplianceEntityEscrow,
			EntityID:   escrow.ID,
			Before:     map[string]any{"status": before},
			After:      map[string]any{"status": escrow.Status, "net_cents": escrow.NetCents()},
		}); err != nil {
			return err
		}
		released = escrow
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleased,
			AggregateType: enums.AggregateEscrow,
			AggregateID:   escrow.ID,
			Actor:         actor,
			Data: payloads.EscrowReleasedEvent{
				EscrowID:   escrow.ID,
				SubOrderID: escrow.SubOrderID,
				StoreID:    escrow.StoreID,
				NetCents:   escrow.NetCents(),
				Currency:   escrow.Currency,
				ReleasedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ReleaseEligible releases up to limit escrows whose return window elapsed
// before now. One failure does not stop the batch; failures are aggregated.
func (s *service) ReleaseEligible(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	candidates, err := s.repo.ListReleaseCandidates(ctx, now.UTC().Add(-s.returnWindow), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list release candidates")
	}

	var (
		released int
		errs     error
	)
	for _, subOrderID := range candidates {
		if _, err := s.Release(ctx, outbox.SystemActor(), subOrderID); err != nil {
			s.logg.Error(s.logg.WithSubOrder(ctx, subOrderID.String()), "escrow release failed", err)
			errs = multierr.Append(errs, fmt.Errorf("sub-order %s: %w", subOrderID, err))
			continue
		}
		released++
	}
	return released, errs
}

func (s *service) Hold(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "hold reason required")
	}
	return s.setHold(ctx, actor, subOrderID, true, reason)
}

func (s *service) Unhold(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) error {
	return s.setHold(ctx, actor, subOrderID, false, "")
}

func (s *service) setHold(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, hold bool, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		escrow, err := s.load(ctx, repo, subOrderID, true)
		if err != nil {
			return err
		}
		if escrow.OnHold == hold {
			return nil
		}
		switch escrow.Status {
		case enums.EscrowStatusReleased, enums.EscrowStatusRefunded, enums.EscrowStatusCancelled:
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "escrow is %s", escrow.Status)
		}

		updates := map[string]any{"on_hold": hold, "hold_reason": nil}
		action := "escrow.unhold"
		if hold {
			updates["hold_reason"] = reason
			action = "escrow.hold"
		}
		if err := repo.Update(ctx, escrow.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow hold")
		}
		_, err = s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     action,
			EntityType: enums.ComplianceEntityEscrow,
			EntityID:   escrow.ID,
			Before:     map[string]any{"on_hold": escrow.OnHold},
			After:      map[string]any{"on_hold": hold},
			Reason:     reason,
		})
		return err
	})
}
