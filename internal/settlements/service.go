package settlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
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

type Service interface {
	Generate(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, period Period) (*models.Settlement, error)
	GeneratePeriod(ctx context.Context, period Period, finalize bool) (int, error)
	Finalize(ctx context.Context, actor *outbox.ActorRef, settlementID uuid.UUID) (*models.Settlement, error)
	Get(ctx context.Context, actor *outbox.ActorRef, settlementID uuid.UUID) (*models.Settlement, error)
	List(ctx context.Context, actor *outbox.ActorRef, storeID *uuid.UUID, params pagination.Params) (pagination.Page[models.Settlement], error)
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Compliance compliance.Recorder
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	tx         txRunner
	compliance compliance.Recorder
	outbox     outboxPublisher
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("settlements repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
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
		compliance: params.Compliance,
		outbox:     params.Outbox,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

// MonthBefore returns the calendar month preceding t, in UTC.
func MonthBefore(t time.Time) Period {
	t = t.UTC()
	end := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: end.AddDate(0, -1, 0), End: end}
}

// Generate builds or refreshes the settlement for a store and period. A
// draft is rebuilt in place; a finalized settlement is superseded by a
// correction carrying the differences.
func (s *service) Generate(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, period Period) (*models.Settlement, error) {
	if !isPrivileged(actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can generate settlements")
	}
	if !period.End.After(period.Start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}
	period = Period{Start: period.Start.UTC(), End: period.End.UTC()}

	var id uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		settlement, err := s.generate(ctx, tx, actor, storeID, period)
		if err != nil {
			return err
		}
		id = settlement.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, id)
}

func (s *service) generate(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, storeID uuid.UUID, period Period) (*models.Settlement, error) {
	repo := s.repo.WithTx(tx)
	store, err := repo.FindStore(ctx, storeID)
	if err != nil {
		return nil, mapNotFound(err, "store")
	}
	activity, err := repo.Activity(ctx, storeID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement activity")
	}
	fresh := summarize(activity)

	current, err := repo.LockCurrent(ctx, storeID, period)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load current settlement")
	}

	switch {
	case current == nil:
		settlement, err := s.create(ctx, repo, store, period, nil)
		if err != nil {
			return nil, err
		}
		return settlement, s.fill(ctx, tx, actor, settlement, fresh, itemsFor(activity))

	case current.Status == enums.SettlementStatusDraft:
		items := itemsFor(activity)
		if current.CorrectsSettlementID != nil {
			prior, err := repo.Find(ctx, *current.CorrectsSettlementID)
			if err != nil {
				return nil, mapNotFound(err, "corrected settlement")
			}
			items = correctionItems(*prior, fresh, s.now())
		}
		return current, s.fill(ctx, tx, actor, current, fresh, items)

	default:
		items := correctionItems(*current, fresh, s.now())
		if len(items) == 0 {
			return current, nil
		}
		if err := repo.Update(ctx, current.ID, map[string]any{"status": enums.SettlementStatusSuperseded}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede settlement")
		}
		before := current.Status
		current.Status = enums.SettlementStatusSuperseded
		if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     "settlement.superseded",
			EntityType: enums.ComplianceEntitySettlement,
			EntityID:   current.ID,
			Before:     map[string]any{"status": before},
			After:      map[string]any{"status": current.Status},
		}); err != nil {
			return nil, err
		}
		settlement, err := s.create(ctx, repo, store, period, &current.ID)
		if err != nil {
			return nil, err
		}
		return settlement, s.fill(ctx, tx, actor, settlement, fresh, items)
	}
}

func (s *service) create(ctx context.Context, repo Repository, store *models.Store, period Period, corrects *uuid.UUID) (*models.Settlement, error) {
	n, err := repo.CountForPeriod(ctx, store.ID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count settlements")
	}
	settlement := &models.Settlement{
		StoreID:              store.ID,
		Number:               fmt.Sprintf("STL-%s-%s-%02d", period.Start.Format("200601"), store.ID.String()[:8], n+1),
		PeriodStart:          period.Start,
		PeriodEnd:            period.End,
		Status:               enums.SettlementStatusDraft,
		Currency:             store.Currency,
		CorrectsSettlementID: corrects,
	}
	if err := repo.Create(ctx, settlement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement")
	}
	return settlement, nil
}

// fill writes totals and items onto a draft and announces it.
func (s *service) fill(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, settlement *models.Settlement, totals Totals, items []models.SettlementItem) error {
	repo := s.repo.WithTx(tx)
	if err := repo.ReplaceItems(ctx, settlement.ID, items); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write settlement items")
	}
	totals.apply(settlement)
	if err := repo.Update(ctx, settlement.ID, map[string]any{
		"gross_sales_cents":     settlement.GrossSalesCents,
		"refunds_cents":         settlement.RefundsCents,
		"commission_cents":      settlement.CommissionCents,
		"net_cents":             settlement.NetCents,
		"paid_out_cents":        settlement.PaidOutCents,
		"closing_balance_cents": settlement.ClosingBalanceCents,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update settlement totals")
	}
	action := "settlement.generated"
	if settlement.CorrectsSettlementID != nil {
		action = "settlement.corrected"
	}
	return s.record(ctx, tx, actor, settlement, enums.EventSettlementGenerated, action, nil)
}

// GeneratePeriod settles every store with activity in the period. When
// finalize is set each draft is finalized straight away.
func (s *service) GeneratePeriod(ctx context.Context, period Period, finalize bool) (int, error) {
	stores, err := s.repo.ActiveStores(ctx, period)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active stores")
	}
	actor := outbox.SystemActor()
	var (
		done int
		errs error
	)
	for _, storeID := range stores {
		settlement, err := s.Generate(ctx, actor, storeID, period)
		if err == nil && finalize && settlement.Status == enums.SettlementStatusDraft {
			_, err = s.Finalize(ctx, actor, settlement.ID)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", storeID, err))
			continue
		}
		done++
	}
	return done, errs
}

func (s *service) Finalize(ctx context.Context, actor *outbox.ActorRef, settlementID uuid.UUID) (*models.Settlement, error) {
	if !isPrivileged(actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can finalize settlements")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		settlement, err := repo.Lock(ctx, settlementID)
		if err != nil {
			return mapNotFound(err, "settlement")
		}
		if settlement.Status != enums.SettlementStatusDraft {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "settlement is %s; only drafts can be finalized", settlement.Status)
		}
		now := s.now().UTC()
		if err := repo.Update(ctx, settlement.ID, map[string]any{
			"status":       enums.SettlementStatusFinalized,
			"finalized_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize settlement")
		}
		settlement.Status = enums.SettlementStatusFinalized
		settlement.FinalizedAt = &now
		return s.record(ctx, tx, actor, settlement, enums.EventSettlementFinalized, "settlement.finalized",
			map[string]any{"status": enums.SettlementStatusDraft})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, settlementID)
}

func (s *service) Get(ctx context.Context, actor *outbox.ActorRef, settlementID uuid.UUID) (*models.Settlement, error) {
	settlement, err := s.repo.Find(ctx, settlementID)
	if err != nil {
		return nil, mapNotFound(err, "settlement")
	}
	if !canView(actor, settlement.StoreID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
	}
	return settlement, nil
}

func (s *service) List(ctx context.Context, actor *outbox.ActorRef, storeID *uuid.UUID, params pagination.Params) (pagination.Page[models.Settlement], error) {
	var empty pagination.Page[models.Settlement]
	if !isPrivileged(actor) {
		if actor == nil || actor.StoreID == nil {
			return empty, pkgerrors.New(pkgerrors.CodeForbidden, "seller store required")
		}
		storeID = actor.StoreID
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, storeID, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}
	return pagination.Build(rows, params.Limit, func(st models.Settlement) pagination.Cursor {
		return pagination.Cursor{CreatedAt: st.CreatedAt, ID: st.ID}
	}), nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, settlement *models.Settlement, event enums.OutboxEventType, action string, before map[string]any) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   settlement.ID,
		Actor:         actor,
		Data: payloads.SettlementEvent{
			SettlementID:         settlement.ID,
			StoreID:              settlement.StoreID,
			Number:               settlement.Number,
			Status:               settlement.Status,
			PeriodStart:          settlement.PeriodStart,
			PeriodEnd:            settlement.PeriodEnd,
			ClosingBalanceCents:  settlement.ClosingBalanceCents,
			CorrectsSettlementID: settlement.CorrectsSettlementID,
		},
	}); err != nil {
		return err
	}
	_, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: enums.ComplianceEntitySettlement,
		EntityID:   settlement.ID,
		Before:     before,
		After: map[string]any{
			"status":                settlement.Status,
			"net_cents":             settlement.NetCents,
			"closing_balance_cents": settlement.ClosingBalanceCents,
		},
	})
	return err
}

func isPrivileged(actor *outbox.ActorRef) bool {
	return actor != nil && (actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem)
}

func canView(actor *outbox.ActorRef, storeID uuid.UUID) bool {
	if isPrivileged(actor) {
		return true
	}
	return actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil && *actor.StoreID == storeID
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
