package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerRecorder interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error)
}

// RunResult summarises one RunDue pass.
type RunResult struct {
	Schedules int
	Created   int
	Paid      int
	Failed    int
	Skipped   int
}

type Service interface {
	UpsertSchedule(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, input ScheduleInput) (*models.PayoutSchedule, error)
	GetSchedule(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID) (*models.PayoutSchedule, error)
	RunDue(ctx context.Context, now time.Time, limit int) (RunResult, error)
	Retry(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error)
	Cancel(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error)
	List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.Payout], error)
	Get(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error)
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Transferer Transferer
	Ledger     ledgerRecorder
	Compliance compliance.Recorder
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
}

type service struct {
	repo       Repository
	tx         txRunner
	transferer Transferer
	ledger     ledgerRecorder
	compliance compliance.Recorder
	outbox     outboxPublisher
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payouts repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Transferer == nil:
		return nil, fmt.Errorf("payout transferer required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		transferer: params.Transferer,
		ledger:     params.Ledger,
		compliance: params.Compliance,
		outbox:     params.Outbox,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

func (s *service) UpsertSchedule(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, input ScheduleInput) (*models.PayoutSchedule, error) {
	if err := canManageStore(actor, storeID); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Frequency != enums.PayoutFrequencyWeekly {
		input.Weekday = nil
	}
	if input.Frequency != enums.PayoutFrequencyMonthly {
		input.DayOfMonth = nil
	}

	var schedule *models.PayoutSchedule
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindStore(ctx, storeID); err != nil {
			return mapNotFound(err, "store")
		}
		next := NextRun(input.Frequency, input.Weekday, input.DayOfMonth, s.now())
		existing, err := repo.FindSchedule(ctx, storeID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			schedule = &models.PayoutSchedule{
				StoreID:      storeID,
				Frequency:    input.Frequency,
				Weekday:      input.Weekday,
				DayOfMonth:   input.DayOfMonth,
				MinimumCents: input.MinimumCents,
				Active:       input.Active == nil || *input.Active,
				NextRunAt:    next,
			}
			if err := repo.CreateSchedule(ctx, schedule); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout schedule")
			}
			return s.recordSchedule(ctx, tx, actor, nil, schedule)
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout schedule")
		}

		before := *existing
		active := existing.Active
		if input.Active != nil {
			active = *input.Active
		}
		if err := repo.UpdateSchedule(ctx, existing.ID, map[string]any{
			"frequency":     input.Frequency,
			"weekday":       input.Weekday,
			"day_of_month":  input.DayOfMonth,
			"minimum_cents": input.MinimumCents,
			"active":        active,
			"next_run_at":   next,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout schedule")
		}
		existing.Frequency = input.Frequency
		existing.Weekday = input.Weekday
		existing.DayOfMonth = input.DayOfMonth
		existing.MinimumCents = input.MinimumCents
		existing.Active = active
		existing.NextRunAt = next
		schedule = existing
		return s.recordSchedule(ctx, tx, actor, &before, schedule)
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *service) recordSchedule(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, before, after *models.PayoutSchedule) error {
	entry := compliance.Entry{
		Actor:      actorOrSystem(actor),
		Action:     "payout_schedule.updated",
		EntityType: enums.ComplianceEntityPayoutSchedule,
		EntityID:   after.ID,
		After:      after,
	}
	if before == nil {
		entry.Action = "payout_schedule.created"
	} else {
		entry.Before = before
	}
	_, err := s.compliance.Record(ctx, tx, entry)
	return err
}

func (s *service) GetSchedule(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID) (*models.PayoutSchedule, error) {
	if err := canManageStore(actor, storeID); err != nil {
		return nil, err
	}
	schedule, err := s.repo.FindSchedule(ctx, storeID)
	if err != nil {
		return nil, mapNotFound(err, "payout schedule")
	}
	return schedule, nil
}

// RunDue creates and executes payouts for every schedule whose next run has
// passed. One store's failure does not stop the others.
func (s *service) RunDue(ctx context.Context, now time.Time, limit int) (RunResult, error) {
	var result RunResult
	ids, err := s.repo.ListDueSchedules(ctx, now, limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due payout schedules")
	}
	var errs error
	for _, id := range ids {
		result.Schedules++
		payouts, skipped, err := s.collect(ctx, id, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: %w", id, err))
			continue
		}
		result.Skipped += skipped
		for _, payout := range payouts {
			result.Created++
			executed, err := s.execute(ctx, outbox.SystemActor(), payout.ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", payout.ID, err))
				continue
			}
			switch executed.Status {
			case enums.PayoutStatusPaid:
				result.Paid++
			case enums.PayoutStatusFailed:
				result.Failed++
			}
		}
	}
	return result, errs
}

// collect links a schedule's unpaid escrows into pending payouts, one per
// currency, and advances the schedule.
func (s *service) collect(ctx context.Context, scheduleID uuid.UUID, now time.Time) ([]models.Payout, int, error) {
	var (
		created []models.Payout
		skipped int
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		schedule, err := repo.LockSchedule(ctx, scheduleID)
		if err != nil {
			return mapNotFound(err, "payout schedule")
		}
		if !schedule.Active || schedule.NextRunAt.After(now) {
			return nil
		}
		escrows, err := repo.LockUnpaidEscrows(ctx, schedule.StoreID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unpaid escrows")
		}

		type bucket struct {
			ids   []uuid.UUID
			total int64
		}
		buckets := map[string]*bucket{}
		var currencies []string
		for _, escrow := range escrows {
			net := escrow.NetCents()
			if net <= 0 {
				continue
			}
			b, ok := buckets[escrow.Currency]
			if !ok {
				b = &bucket{}
				buckets[escrow.Currency] = b
				currencies = append(currencies, escrow.Currency)
			}
			b.ids = append(b.ids, escrow.ID)
			b.total += net
		}

		for _, currency := range currencies {
			b := buckets[currency]
			if b.total < schedule.MinimumCents {
				skipped++
				continue
			}
			payout := models.Payout{
				StoreID:     schedule.StoreID,
				ScheduleID:  &schedule.ID,
				Status:      enums.PayoutStatusPending,
				Currency:    currency,
				AmountCents: b.total,
				Provider:    s.transferer.Name(),
			}
			if err := repo.CreatePayout(ctx, &payout); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
			}
			if err := repo.LinkEscrows(ctx, payout.ID, b.ids); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link escrows")
			}
			if err := s.record(ctx, tx, &payout, "", outbox.SystemActor(), ""); err != nil {
				return err
			}
			created = append(created, payout)
		}

		return repo.UpdateSchedule(ctx, schedule.ID, map[string]any{
			"last_run_at": now.UTC(),
			"next_run_at": NextRun(schedule.Frequency, schedule.Weekday, schedule.DayOfMonth, now),
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return created, skipped, nil
}

// execute sends a pending or failed payout through the transferer.
func (s *service) execute(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error) {
	var (
		payout *models.Payout
		store  *models.Store
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		payout, err = repo.LockPayout(ctx, payoutID)
		if err != nil {
			return mapNotFound(err, "payout")
		}
		if payout.Status != enums.PayoutStatusPending && payout.Status != enums.PayoutStatusFailed {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payout is %s and cannot be sent", payout.Status)
		}
		store, err = repo.FindStore(ctx, payout.StoreID)
		if err != nil {
			return mapNotFound(err, "store")
		}
		from := payout.Status
		payout.Status = enums.PayoutStatusProcessing
		payout.Attempts++
		if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{
			"status":   payout.Status,
			"attempts": payout.Attempts,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout processing")
		}
		return s.record(ctx, tx, payout, from, actor, "")
	})
	if err != nil {
		return nil, err
	}

	// The key stays the same across attempts: a transfer whose response was
	// lost is answered from the rail's record instead of being sent again.
	ctx = s.logg.WithField(ctx, "payout_id", payout.ID.String())
	started := time.Now()
	ref, transferErr := s.transferer.Transfer(ctx, TransferRequest{
		PayoutID:       payout.ID,
		Store:          *store,
		AmountCents:    payout.AmountCents,
		Currency:       payout.Currency,
		IdempotencyKey: transferKey(payout.ID),
	})
	s.metrics.ObserveCall(s.transferer.Name(), "transfer", started, transferErr)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		if transferErr != nil {
			reason := transferErr.Error()
			payout.Status = enums.PayoutStatusFailed
			payout.FailureReason = &reason
			if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{
				"status":         payout.Status,
				"failure_reason": reason,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout failed")
			}
			return s.record(ctx, tx, payout, enums.PayoutStatusProcessing, actor, reason)
		}

		payout.Status = enums.PayoutStatusPaid
		payout.ProviderRef = &ref
		payout.PaidAt = &now
		payout.FailureReason = nil
		if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{
			"status":         payout.Status,
			"provider_ref":   ref,
			"paid_at":        now,
			"failure_reason": nil,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout paid")
		}
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			StoreID:     &payout.StoreID,
			ReferenceID: &payout.ID,
			ActorUserID: actor.UserID,
			Type:        enums.LedgerEventTypePayoutPaid,
			AmountCents: payout.AmountCents,
			Currency:    payout.Currency,
			Metadata:    map[string]any{"provider": payout.Provider, "provider_ref": ref},
		}); err != nil {
			return err
		}
		return s.record(ctx, tx, payout, enums.PayoutStatusProcessing, actor, "")
	})
	if err != nil {
		s.logg.Error(ctx, "payout transfer outcome not recorded", err)
		return nil, err
	}
	if transferErr != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"attempts":  payout.Attempts,
			"retryable": pkgerrors.IsRetryable(transferErr),
		}), "payout transfer failed", transferErr)
	} else {
		s.metrics.AddAmount("payout", payout.Currency, payout.AmountCents)
		s.logg.Info(ctx, "payout paid")
	}
	return payout, nil
}

func transferKey(payoutID uuid.UUID) string {
	return "payout-" + payoutID.String()
}

// Retry resends a failed payout.
func (s *service) Retry(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindPayout(ctx, payoutID)
	if err != nil {
		return nil, mapNotFound(err, "payout")
	}
	if err := canManageStore(actor, payout.StoreID); err != nil {
		return nil, err
	}
	if payout.Status != enums.PayoutStatusFailed {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "payout is %s; only failed payouts can be retried", payout.Status)
	}
	return s.execute(ctx, actorOrSystem(actor), payoutID)
}

// Cancel drops a pending payout and frees its escrows for the next run.
func (s *service) Cancel(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error) {
	var payout *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		payout, err = repo.LockPayout(ctx, payoutID)
		if err != nil {
			return mapNotFound(err, "payout")
		}
		if err := canManageStore(actor, payout.StoreID); err != nil {
			return err
		}
		if payout.Status != enums.PayoutStatusPending {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payout is %s; only pending payouts can be cancelled", payout.Status)
		}
		if err := repo.UnlinkEscrows(ctx, payout.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unlink escrows")
		}
		if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{"status": enums.PayoutStatusCancelled}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payout")
		}
		payout.Status = enums.PayoutStatusCancelled
		return s.record(ctx, tx, payout, enums.PayoutStatusPending, actorOrSystem(actor), "")
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *service) List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.Payout], error) {
	var empty pagination.Page[models.Payout]
	if !isPrivileged(actor) {
		if actor == nil || actor.StoreID == nil {
			return empty, pkgerrors.New(pkgerrors.CodeForbidden, "seller store required")
		}
		filter.StoreID = actor.StoreID
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListPayouts(ctx, filter, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return pagination.Build(rows, params.Limit, func(p models.Payout) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	}), nil
}

func (s *service) Get(ctx context.Context, actor *outbox.ActorRef, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindPayout(ctx, payoutID)
	if err != nil {
		return nil, mapNotFound(err, "payout")
	}
	if err := canManageStore(actor, payout.StoreID); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	return payout, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, payout *models.Payout, from enums.PayoutStatus, actor *outbox.ActorRef, reason string) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutStatusChanged,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Actor:         actor,
		Data: payloads.PayoutStatusChangedEvent{
			PayoutID:      payout.ID,
			StoreID:       payout.StoreID,
			Status:        payout.Status,
			AmountCents:   payout.AmountCents,
			Currency:      payout.Currency,
			FailureReason: reason,
		},
	}); err != nil {
		return err
	}
	before := map[string]any{}
	if from != "" {
		before["status"] = from
	}
	_, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "payout." + string(payout.Status),
		EntityType: enums.ComplianceEntityPayout,
		EntityID:   payout.ID,
		Before:     before,
		After:      map[string]any{"status": payout.Status, "amount_cents": payout.AmountCents, "attempts": payout.Attempts},
		Reason:     reason,
	})
	return err
}

func isPrivileged(actor *outbox.ActorRef) bool {
	return actor != nil && (actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem)
}

func canManageStore(actor *outbox.ActorRef, storeID uuid.UUID) error {
	if isPrivileged(actor) {
		return nil
	}
	if actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil && *actor.StoreID == storeID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "store belongs to another seller")
}

func actorOrSystem(actor *outbox.ActorRef) *outbox.ActorRef {
	if actor == nil {
		return outbox.SystemActor()
	}
	return actor
}

func mapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "%s not found", what)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
