package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/money"
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
	// Prepare collects uninvoiced commission into a draft. It returns nil
	// when the period has nothing to bill.
	Prepare(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, from, to time.Time) (*models.CommissionInvoice, error)
	Publish(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error)
	Issue(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, from, to time.Time) (*models.CommissionInvoice, error)
	IssuePeriod(ctx context.Context, from, to time.Time) (int, error)
	IssueCreditNote(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID, amountCents int64, reason string) (*models.CommissionInvoice, error)
	Void(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error)
	Get(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error)
	List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.CommissionInvoice], error)
}

type ServiceParams struct {
	Repo        Repository
	Commissions commissions.Repository
	Tx          txRunner
	Compliance  compliance.Recorder
	Outbox      outboxPublisher
	Logger      *logger.Logger
	TaxBps      int
}

type service struct {
	repo        Repository
	commissions commissions.Repository
	tx          txRunner
	compliance  compliance.Recorder
	outbox      outboxPublisher
	logg        *logger.Logger
	taxBps      int
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("invoices repository required")
	case params.Commissions == nil:
		return nil, fmt.Errorf("commissions repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.TaxBps < 0 || params.TaxBps > 10000:
		return nil, fmt.Errorf("tax bps must be between 0 and 10000")
	}
	return &service{
		repo:        params.Repo,
		commissions: params.Commissions,
		tx:          params.Tx,
		compliance:  params.Compliance,
		outbox:      params.Outbox,
		logg:        params.Logger,
		taxBps:      params.TaxBps,
		now:         time.Now,
	}, nil
}

func (s *service) Prepare(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, from, to time.Time) (*models.CommissionInvoice, error) {
	if err := checkPeriod(actor, from, to); err != nil {
		return nil, err
	}
	var invoice *models.CommissionInvoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		invoice, err = s.prepare(ctx, tx, actor, storeID, from.UTC(), to.UTC())
		return err
	})
	if err != nil || invoice == nil {
		return nil, err
	}
	return s.repo.Find(ctx, invoice.ID)
}

func (s *service) Publish(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error) {
	if !isPrivileged(actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can issue invoices")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoice, err := s.repo.WithTx(tx).Lock(ctx, invoiceID)
		if err != nil {
			return mapNotFound(err, "invoice")
		}
		return s.publish(ctx, tx, actor, invoice)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, invoiceID)
}

// Issue prepares and publishes in one transaction. An empty period is a
// no-op and returns nil.
func (s *service) Issue(ctx context.Context, actor *outbox.ActorRef, storeID uuid.UUID, from, to time.Time) (*models.CommissionInvoice, error) {
	if err := checkPeriod(actor, from, to); err != nil {
		return nil, err
	}
	var invoice *models.CommissionInvoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		invoice, err = s.prepare(ctx, tx, actor, storeID, from.UTC(), to.UTC())
		if err != nil || invoice == nil {
			return err
		}
		return s.publish(ctx, tx, actor, invoice)
	})
	if err != nil || invoice == nil {
		return nil, err
	}
	return s.repo.Find(ctx, invoice.ID)
}

func (s *service) IssuePeriod(ctx context.Context, from, to time.Time) (int, error) {
	stores, err := s.repo.StoresWithUninvoiced(ctx, from, to)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores with uninvoiced commission")
	}
	var (
		issued int
		errs   error
	)
	for _, storeID := range stores {
		invoice, err := s.Issue(ctx, outbox.SystemActor(), storeID, from, to)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", storeID, err))
			continue
		}
		if invoice != nil {
			issued++
		}
	}
	return issued, errs
}

func (s *service) prepare(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, storeID uuid.UUID, from, to time.Time) (*models.CommissionInvoice, error) {
	repo := s.repo.WithTx(tx)
	commissionRepo := s.commissions.WithTx(tx)
	store, err := repo.FindStore(ctx, storeID)
	if err != nil {
		return nil, mapNotFound(err, "store")
	}
	txns, err := commissionRepo.ListUninvoiced(ctx, storeID, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load uninvoiced commission")
	}
	if len(txns) == 0 {
		return nil, nil
	}

	currency := txns[0].Currency
	items := make([]models.CommissionInvoiceItem, 0, len(txns))
	ids := make([]uuid.UUID, 0, len(txns))
	var subtotal int64
	for _, txn := range txns {
		if txn.Currency != currency {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "store %s has commission in %s and %s for the period", store.ID, currency, txn.Currency)
		}
		id := txn.ID
		label := "Commission"
		if txn.Kind == enums.CommissionKindReversal {
			label = "Commission reversal"
		}
		items = append(items, models.CommissionInvoiceItem{
			CommissionTransactionID: &id,
			Description:             fmt.Sprintf("%s on sub-order %s (%d bps of %d)", label, txn.SubOrderID, txn.RateBps, txn.BaseCents),
			AmountCents:             txn.SignedCents(),
		})
		ids = append(ids, id)
		subtotal += txn.SignedCents()
	}

	tax := money.ApplyBps(subtotal, s.taxBps)
	invoice := &models.CommissionInvoice{
		ID:            uuid.New(),
		StoreID:       store.ID,
		Kind:          enums.InvoiceKindInvoice,
		Status:        enums.InvoiceStatusDraft,
		Currency:      currency,
		PeriodStart:   from,
		PeriodEnd:     to,
		SubtotalCents: subtotal,
		TaxBps:        s.taxBps,
		TaxCents:      tax,
		TotalCents:    subtotal + tax,
		Items:         items,
	}
	invoice.Number = "DRAFT-" + invoice.ID.String()
	if err := repo.Create(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
	}
	claimed, err := commissionRepo.MarkInvoiced(ctx, ids, invoice.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark commission invoiced")
	}
	if claimed != int64(len(ids)) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "commission was invoiced concurrently")
	}
	if err := s.recordCompliance(ctx, tx, actor, invoice, "invoice.drafted", nil, ""); err != nil {
		return nil, err
	}
	return invoice, nil
}

// publish assigns the sequential number and issues a draft.
func (s *service) publish(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, invoice *models.CommissionInvoice) error {
	if invoice.Status != enums.InvoiceStatusDraft {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice is %s; only drafts can be issued", invoice.Status)
	}
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	number, err := s.nextNumber(ctx, repo, now)
	if err != nil {
		return err
	}
	if err := repo.Update(ctx, invoice.ID, map[string]any{
		"number":    number,
		"status":    enums.InvoiceStatusIssued,
		"issued_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue invoice")
	}
	invoice.Number = number
	invoice.Status = enums.InvoiceStatusIssued
	invoice.IssuedAt = &now
	return s.announce(ctx, tx, actor, invoice, "invoice.issued", enums.InvoiceStatusDraft)
}

func (s *service) nextNumber(ctx context.Context, repo Repository, at time.Time) (string, error) {
	seq, err := repo.NextNumber(ctx, at.Year())
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate invoice number")
	}
	return fmt.Sprintf("INV-%d-%06d", at.Year(), seq), nil
}

func (s *service) IssueCreditNote(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID, amountCents int64, reason string) (*models.CommissionInvoice, error) {
	if !isPrivileged(actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can issue credit notes")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit note reason is required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}

	var note *models.CommissionInvoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		original, err := repo.Lock(ctx, invoiceID)
		if err != nil {
			return mapNotFound(err, "invoice")
		}
		if original.Kind != enums.InvoiceKindInvoice {
			return pkgerrors.New(pkgerrors.CodeValidation, "credit notes apply to invoices only")
		}
		if original.Status != enums.InvoiceStatusIssued {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice is %s; only issued invoices can be credited", original.Status)
		}
		credited, err := repo.CreditedCents(ctx, original.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum credit notes")
		}
		if remaining := original.TotalCents - credited; amountCents > remaining {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "credit of %d exceeds the %d still creditable", amountCents, max(remaining, 0)).
				WithDetails(map[string]any{"credited_cents": credited, "invoice_total_cents": original.TotalCents})
		}

		subtotal := money.Prorate(amountCents, 10000, int64(10000+original.TaxBps))
		now := s.now().UTC()
		number, err := s.nextNumber(ctx, repo, now)
		if err != nil {
			return err
		}
		note = &models.CommissionInvoice{
			StoreID:           original.StoreID,
			Number:            number,
			Kind:              enums.InvoiceKindCreditNote,
			Status:            enums.InvoiceStatusIssued,
			Currency:          original.Currency,
			PeriodStart:       original.PeriodStart,
			PeriodEnd:         original.PeriodEnd,
			SubtotalCents:     -subtotal,
			TaxBps:            original.TaxBps,
			TaxCents:          -(amountCents - subtotal),
			TotalCents:        -amountCents,
			OriginalInvoiceID: &original.ID,
			Reason:            &reason,
			IssuedAt:          &now,
			Items: []models.CommissionInvoiceItem{{
				Description: fmt.Sprintf("Credit against %s: %s", original.Number, reason),
				AmountCents: -subtotal,
			}},
		}
		if err := repo.Create(ctx, note); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit note")
		}
		return s.announce(ctx, tx, actor, note, "invoice.credit_note_issued", "")
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, note.ID)
}

// Void discards a draft and returns its commission to the uninvoiced pool.
func (s *service) Void(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error) {
	if !isPrivileged(actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can void invoices")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.Lock(ctx, invoiceID)
		if err != nil {
			return mapNotFound(err, "invoice")
		}
		if invoice.Status != enums.InvoiceStatusDraft {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice is %s; only drafts can be voided", invoice.Status)
		}
		if err := s.commissions.WithTx(tx).ClearInvoice(ctx, invoice.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release invoiced commission")
		}
		now := s.now().UTC()
		if err := repo.Update(ctx, invoice.ID, map[string]any{
			"status":    enums.InvoiceStatusVoid,
			"voided_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void invoice")
		}
		invoice.Status = enums.InvoiceStatusVoid
		invoice.VoidedAt = &now
		return s.recordCompliance(ctx, tx, actor, invoice, "invoice.voided", map[string]any{"status": enums.InvoiceStatusDraft}, "")
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, invoiceID)
}

func (s *service) Get(ctx context.Context, actor *outbox.ActorRef, invoiceID uuid.UUID) (*models.CommissionInvoice, error) {
	invoice, err := s.repo.Find(ctx, invoiceID)
	if err != nil {
		return nil, mapNotFound(err, "invoice")
	}
	if !canView(actor, invoice) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.CommissionInvoice], error) {
	var empty pagination.Page[models.CommissionInvoice]
	if !isPrivileged(actor) {
		if actor == nil || actor.StoreID == nil {
			return empty, pkgerrors.New(pkgerrors.CodeForbidden, "seller store required")
		}
		filter.StoreID = actor.StoreID
		issued := enums.InvoiceStatusIssued
		filter.Status = &issued
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}
	return pagination.Build(rows, params.Limit, func(inv models.CommissionInvoice) pagination.Cursor {
		return pagination.Cursor{CreatedAt: inv.CreatedAt, ID: inv.ID}
	}), nil
}

func (s *service) announce(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, invoice *models.CommissionInvoice, action string, from enums.InvoiceStatus) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Actor:         actor,
		Data: payloads.InvoiceIssuedEvent{
			InvoiceID:         invoice.ID,
			StoreID:           invoice.StoreID,
			Number:            invoice.Number,
			Kind:              invoice.Kind,
			TotalCents:        invoice.TotalCents,
			Currency:          invoice.Currency,
			OriginalInvoiceID: invoice.OriginalInvoiceID,
		},
	}); err != nil {
		return err
	}
	var before map[string]any
	if from != "" {
		before = map[string]any{"status": from}
	}
	reason := ""
	if invoice.Reason != nil {
		reason = *invoice.Reason
	}
	return s.recordCompliance(ctx, tx, actor, invoice, action, before, reason)
}

func (s *service) recordCompliance(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, invoice *models.CommissionInvoice, action string, before map[string]any, reason string) error {
	_, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: enums.ComplianceEntityInvoice,
		EntityID:   invoice.ID,
		Before:     before,
		After: map[string]any{
			"number":      invoice.Number,
			"kind":        invoice.Kind,
			"status":      invoice.Status,
			"total_cents": invoice.TotalCents,
		},
		Reason: reason,
	})
	return err
}

func checkPeriod(actor *outbox.ActorRef, from, to time.Time) error {
	if !isPrivileged(actor) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only operators can issue invoices")
	}
	if !to.After(from) {
		return pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}
	return nil
}

func isPrivileged(actor *outbox.ActorRef) bool {
	return actor != nil && (actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem)
}

// canView hides drafts and voided invoices from sellers.
func canView(actor *outbox.ActorRef, invoice *models.CommissionInvoice) bool {
	if isPrivileged(actor) {
		return true
	}
	return actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil &&
		*actor.StoreID == invoice.StoreID && invoice.Status == enums.InvoiceStatusIssued
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
