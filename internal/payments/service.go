package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/catalog"
	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/money"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AuthorizeOptions carries the buyer's payment method for the first
// authorization attempt.
type AuthorizeOptions struct {
	PaymentMethodToken string
	CustomerRef        string
	Actor              *outbox.ActorRef
}

// Capturer is the surface fulfillment code uses once sellers respond.
type Capturer interface {
	CaptureIfReady(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.PaymentTransaction, error)
}

// Refunder issues provider refunds against a sub-order's escrow.
type Refunder interface {
	Refund(ctx context.Context, input RefundInput) (*models.Refund, error)
	SettleRefund(ctx context.Context, refundID uuid.UUID, actor *outbox.ActorRef) (*models.Refund, error)
}

// RefundPreparer lets a caller commit a refund together with the change that
// owes it, then settle it once the transaction commits.
type RefundPreparer interface {
	Refunder
	PrepareRefund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Refund, error)
}

type Service interface {
	Capturer
	RefundPreparer
	RetryRefund(ctx context.Context, refundID uuid.UUID, actor *outbox.ActorRef) (*models.Refund, error)
	SettleCancellationRefunds(ctx context.Context, now time.Time, limit int) (int, error)
	ResolveProvider(preferred enums.PaymentProvider, currency string) (enums.PaymentProvider, error)
	CreatePending(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.PaymentTransaction, error)
	Authorize(ctx context.Context, orderID uuid.UUID, opts AuthorizeOptions) (*models.PaymentTransaction, error)
	HandleProviderEvent(ctx context.Context, event ProviderEvent) (bool, error)
	Reconcile(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	ReconcileStale(ctx context.Context, now time.Time, limit int) (int, error)
	GetForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	ListRefunds(ctx context.Context, subOrderID uuid.UUID) ([]models.Refund, error)
}

type ServiceParams struct {
	Repo             Repository
	Tx               txRunner
	Providers        *Manager
	States           orderstate.Service
	Escrow           escrow.Ledger
	Commissions      commissions.Charger
	Inventory        catalog.Inventory
	Ledger           ledger.Service
	Compliance       compliance.Recorder
	Outbox           outboxPublisher
	Metrics          *metrics.PaymentMetrics
	Logger           *logger.Logger
	AcceptanceWindow time.Duration
}

type service struct {
	repo             Repository
	tx               txRunner
	providers        *Manager
	states           orderstate.Service
	escrow           escrow.Ledger
	commissions      commissions.Charger
	inventory        catalog.Inventory
	ledger           ledger.Service
	compliance       compliance.Recorder
	outbox           outboxPublisher
	metrics          *metrics.PaymentMetrics
	logg             *logger.Logger
	acceptanceWindow time.Duration
	now              func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Providers == nil:
		return nil, fmt.Errorf("provider manager required")
	case params.States == nil:
		return nil, fmt.Errorf("order state service required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow ledger required")
	case params.Commissions == nil:
		return nil, fmt.Errorf("commission charger required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.AcceptanceWindow <= 0:
		return nil, fmt.Errorf("acceptance window must be positive")
	}
	return &service{
		repo:             params.Repo,
		tx:               params.Tx,
		providers:        params.Providers,
		states:           params.States,
		escrow:           params.Escrow,
		commissions:      params.Commissions,
		inventory:        params.Inventory,
		ledger:           params.Ledger,
		compliance:       params.Compliance,
		outbox:           params.Outbox,
		metrics:          params.Metrics,
		logg:             params.Logger,
		acceptanceWindow: params.AcceptanceWindow,
		now:              time.Now,
	}, nil
}

func (s *service) ResolveProvider(preferred enums.PaymentProvider, currency string) (enums.PaymentProvider, error) {
	p, err := s.providers.Resolve(preferred, currency)
	if err != nil {
		return "", err
	}
	return p.Name(), nil
}

// CreatePending records the payment row inside the checkout transaction.
func (s *service) CreatePending(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.PaymentTransaction, error) {
	payment := &models.PaymentTransaction{
		OrderID:     order.ID,
		Provider:    order.PaymentProvider,
		Status:      enums.PaymentStatusPending,
		Currency:    order.Currency,
		AmountCents: order.TotalCents,
	}
	if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

func (s *service) GetForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	payment, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err, "payment")
	}
	return payment, nil
}

func (s *service) ListRefunds(ctx context.Context, subOrderID uuid.UUID) ([]models.Refund, error) {
	refunds, err := s.repo.ListRefunds(ctx, subOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return refunds, nil
}

// Authorize places the hold for an order. A decline fails the payment and
// cancels the order; a provider outage leaves the payment pending.
func (s *service) Authorize(ctx context.Context, orderID uuid.UUID, opts AuthorizeOptions) (*models.PaymentTransaction, error) {
	actor := actorOrSystem(opts.Actor)
	order, err := s.states.Repo(nil).FindOrder(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err, "order")
	}
	payment := order.Payment
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.Status != enums.PaymentStatusPending {
		return payment, nil
	}
	ctx = s.logg.WithOrder(ctx, order.ID.String())

	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	res, err := provider.Authorize(ctx, AuthorizeRequest{
		PaymentID:          payment.ID,
		OrderID:            order.ID,
		OrderNumber:        order.Number,
		AmountCents:        payment.AmountCents,
		Currency:           payment.Currency,
		PaymentMethodToken: opts.PaymentMethodToken,
		CustomerRef:        opts.CustomerRef,
		IdempotencyKey:     "authorize-" + payment.ID.String(),
	})
	s.metrics.ObserveCall(string(payment.Provider), "authorize", started, err)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined) {
			s.logg.Error(ctx, "payment authorization failed", err)
			return nil, err
		}
		res = &Result{Status: enums.PaymentStatusFailed, FailureReason: declineReason(err)}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyResult(ctx, tx, payment.ID, res, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.GetForOrder(ctx, orderID)
}

// applyResult moves a local payment to the state the provider reports.
func (s *service) applyResult(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, res *Result, actor *outbox.ActorRef) error {
	switch res.Status {
	case enums.PaymentStatusAuthorized:
		return s.applyAuthorized(ctx, tx, paymentID, res, actor)
	case enums.PaymentStatusFailed:
		return s.applyFailed(ctx, tx, paymentID, res.FailureReason, actor)
	case enums.PaymentStatusVoided:
		return s.applyVoided(ctx, tx, paymentID, "authorization voided by provider", actor)
	case enums.PaymentStatusCaptured:
		return s.applyCaptured(ctx, tx, paymentID, res.AmountCents, actor)
	default:
		if res.ProviderRef == "" {
			return nil
		}
		return s.repo.WithTx(tx).Update(ctx, paymentID, map[string]any{"provider_ref": res.ProviderRef})
	}
}

func (s *service) applyAuthorized(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, res *Result, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.LockByID(ctx, paymentID)
	if err != nil {
		return mapNotFound(err, "payment")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}

	amount := res.AmountCents
	if amount <= 0 {
		amount = payment.AmountCents
	}
	now := s.now().UTC()
	updates := map[string]any{
		"status":           enums.PaymentStatusAuthorized,
		"authorized_cents": amount,
		"authorized_at":    now,
	}
	if res.ProviderRef != "" {
		updates["provider_ref"] = res.ProviderRef
	}
	if err := repo.Update(ctx, payment.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "authorize payment")
	}

	states := s.states.Repo(tx)
	order, err := states.LockOrder(ctx, payment.OrderID)
	if err != nil {
		return mapNotFound(err, "order")
	}
	deadline := now.Add(s.acceptanceWindow)
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		if sub.Status != enums.SubOrderStatusPendingPayment {
			continue
		}
		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
			To:     enums.SubOrderStatusAwaitingAcceptance,
			Actor:  actor,
			Reason: "payment authorized",
		}); err != nil {
			return err
		}
		if err := states.UpdateSubOrder(ctx, sub.ID, map[string]any{"accept_deadline": deadline}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set acceptance deadline")
		}
	}
	if _, err := s.states.SyncOrderStatus(ctx, tx, order.ID, actor); err != nil {
		return err
	}

	return s.record(ctx, tx, payment, paymentRecord{
		actor:      actor,
		ledgerType: enums.LedgerEventTypePaymentAuthorized,
		amount:     amount,
		event:      enums.EventPaymentAuthorized,
		status:     enums.PaymentStatusAuthorized,
	})
}

func (s *service) applyFailed(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.LockByID(ctx, paymentID)
	if err != nil {
		return mapNotFound(err, "payment")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}
	if strings.TrimSpace(reason) == "" {
		reason = "payment declined"
	}
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusFailed,
		"failure_reason": reason,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
	}
	if err := s.cancelOpenSubOrders(ctx, tx, payment.OrderID, "payment_failed", actor); err != nil {
		return err
	}
	return s.record(ctx, tx, payment, paymentRecord{
		actor:  actor,
		event:  enums.EventPaymentFailed,
		status: enums.PaymentStatusFailed,
		reason: reason,
	})
}

func (s *service) applyVoided(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.LockByID(ctx, paymentID)
	if err != nil {
		return mapNotFound(err, "payment")
	}
	if payment.Status != enums.PaymentStatusAuthorized && payment.Status != enums.PaymentStatusPending {
		return nil
	}
	now := s.now().UTC()
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"status":    enums.PaymentStatusVoided,
		"voided_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void payment")
	}
	if err := s.cancelOpenSubOrders(ctx, tx, payment.OrderID, "payment_voided", actor); err != nil {
		return err
	}
	rec := paymentRecord{
		actor:  actor,
		event:  enums.EventPaymentVoided,
		status: enums.PaymentStatusVoided,
		reason: reason,
	}
	if payment.AuthorizedCents > 0 {
		rec.ledgerType = enums.LedgerEventTypePaymentVoided
		rec.amount = payment.AuthorizedCents
	}
	return s.record(ctx, tx, payment, rec)
}

// applyCaptured funds the escrow and charges commission for every sub-order
// still carrying a payable balance.
func (s *service) applyCaptured(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, amount int64, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.LockByID(ctx, paymentID)
	if err != nil {
		return mapNotFound(err, "payment")
	}
	if payment.Status != enums.PaymentStatusAuthorized {
		return nil
	}
	order, err := s.states.Repo(tx).LockOrder(ctx, payment.OrderID)
	if err != nil {
		return mapNotFound(err, "order")
	}

	var (
		payable int64
		open    []*models.SellerSubOrder
	)
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		if sub.Status == enums.SubOrderStatusCancelled || sub.PayableCents() <= 0 {
			continue
		}
		payable += sub.PayableCents()
		open = append(open, sub)
	}
	if amount <= 0 || amount > payable {
		amount = payable
	}
	if amount < payable {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_id":       order.ID.String(),
			"captured_cents": amount,
			"payable_cents":  payable,
		}), "provider captured less than payable; escrows funded pro rata")
	}

	now := s.now().UTC()
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusCaptured,
		"captured_cents": amount,
		"captured_at":    now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "capture payment")
	}

	for i, share := range captureShares(open, amount, payable) {
		if share <= 0 {
			continue
		}
		sub := open[i]
		charge, err := s.commissions.Charge(ctx, tx, commissions.ChargeInput{
			SubOrder:  sub,
			Currency:  payment.Currency,
			BaseCents: share,
		})
		if err != nil {
			return err
		}
		if _, err := s.escrow.Fund(ctx, tx, escrow.FundInput{
			SubOrderID:      sub.ID,
			AmountCents:     share,
			CommissionCents: charge.AmountCents,
		}); err != nil {
			return err
		}
	}
	if _, err := s.states.SyncOrderStatus(ctx, tx, order.ID, actor); err != nil {
		return err
	}
	s.metrics.AddAmount("captured", payment.Currency, amount)

	return s.record(ctx, tx, payment, paymentRecord{
		actor:      actor,
		ledgerType: enums.LedgerEventTypePaymentCaptured,
		amount:     amount,
		event:      enums.EventPaymentCaptured,
		status:     enums.PaymentStatusCaptured,
	})
}

// captureShares splits a captured amount across sub-orders in proportion to
// what each owes. The last share takes the rounding remainder so the escrows
// never hold more than the provider captured.
func captureShares(subs []*models.SellerSubOrder, captured, payable int64) []int64 {
	shares := make([]int64, len(subs))
	var assigned int64
	for i, sub := range subs {
		if i == len(subs)-1 {
			shares[i] = captured - assigned
			break
		}
		shares[i] = sub.PayableCents()
		if captured < payable {
			shares[i] = money.Prorate(captured, sub.PayableCents(), payable)
		}
		assigned += shares[i]
	}
	return shares
}

// cancelOpenSubOrders cancels every sub-order that has not been captured,
// returning its stock and closing its pending escrow.
func (s *service) cancelOpenSubOrders(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, actor *outbox.ActorRef) error {
	states := s.states.Repo(tx)
	order, err := states.LockOrder(ctx, orderID)
	if err != nil {
		return mapNotFound(err, "order")
	}
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		if !orderstate.CanTransition(sub.Status, enums.SubOrderStatusCancelled) {
			continue
		}
		if sub.Escrow != nil && sub.Escrow.Status.IsFunded() {
			continue
		}
		var cancelledCents int64
		for j := range sub.Items {
			item := &sub.Items[j]
			open := item.OpenQty()
			if open <= 0 {
				continue
			}
			if err := s.inventory.Release(ctx, tx, item.ProductID, open); err != nil {
				return err
			}
			item.CancelledQty += open
			item.DeriveStatus()
			cancelledCents += item.UnitPriceCents * int64(open)
		}
		if err := states.SaveItems(ctx, sub.Items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order items")
		}
		if err := states.UpdateSubOrder(ctx, sub.ID, map[string]any{"cancelled_cents": sub.CancelledCents + cancelledCents}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cancelled amount")
		}
		if err := s.escrow.Cancel(ctx, tx, sub.ID); err != nil {
			return err
		}
		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
			To:     enums.SubOrderStatusCancelled,
			Actor:  actor,
			Reason: reason,
		}); err != nil {
			return err
		}
	}
	_, err = s.states.SyncOrderStatus(ctx, tx, orderID, actor)
	return err
}

type paymentRecord struct {
	actor      *outbox.ActorRef
	ledgerType enums.LedgerEventType
	amount     int64
	event      enums.OutboxEventType
	status     enums.PaymentStatus
	reason     string
}

// record writes the ledger, compliance and outbox side of a payment
// status change. before is the payment as it was loaded.
func (s *service) record(ctx context.Context, tx *gorm.DB, before *models.PaymentTransaction, rec paymentRecord) error {
	orderID := before.OrderID
	if rec.ledgerType != "" {
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:     &orderID,
			ReferenceID: &before.ID,
			ActorUserID: rec.actor.UserID,
			Type:        rec.ledgerType,
			AmountCents: rec.amount,
			Currency:    before.Currency,
			Metadata:    map[string]any{"provider": before.Provider},
		}); err != nil {
			return err
		}
	}
	if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      rec.actor,
		Action:     "payment." + string(rec.status),
		EntityType: enums.ComplianceEntityPayment,
		EntityID:   before.ID,
		Before:     map[string]any{"status": before.Status},
		After:      map[string]any{"status": rec.status, "amount_cents": rec.amount},
		Reason:     rec.reason,
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     rec.event,
		AggregateType: enums.AggregatePayment,
		AggregateID:   before.ID,
		Actor:         rec.actor,
		Data: payloads.PaymentStatusEvent{
			PaymentID:     before.ID,
			OrderID:       before.OrderID,
			Provider:      before.Provider,
			Status:        rec.status,
			AmountCents:   rec.amount,
			Currency:      before.Currency,
			FailureReason: rec.reason,
		},
	})
}

// CaptureIfReady captures once every sub-order has been accepted or
// cancelled. Nothing accepted means the authorization is voided instead.
func (s *service) CaptureIfReady(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.PaymentTransaction, error) {
	actor = actorOrSystem(actor)
	var (
		payment *models.PaymentTransaction
		amount  int64
		ready   bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.states.Repo(tx).LockOrder(ctx, orderID)
		if err != nil {
			return mapNotFound(err, "order")
		}
		if order.Payment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		payment = order.Payment
		switch payment.Status {
		case enums.PaymentStatusAuthorized:
		case enums.PaymentStatusPending:
			if allCancelled(order.SubOrders) && payment.ProviderRef == nil {
				return s.applyVoided(ctx, tx, payment.ID, "order cancelled before authorization", actor)
			}
			return nil
		default:
			return nil
		}
		for _, sub := range order.SubOrders {
			switch sub.Status {
			case enums.SubOrderStatusPendingPayment, enums.SubOrderStatusAwaitingAcceptance:
				return nil
			case enums.SubOrderStatusCancelled:
				continue
			}
			amount += sub.PayableCents()
		}
		ready = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ready {
		return s.GetForOrder(ctx, orderID)
	}

	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	ref := ""
	if payment.ProviderRef != nil {
		ref = *payment.ProviderRef
	}
	ctx = s.logg.WithOrder(ctx, orderID.String())

	if amount == 0 {
		started := time.Now()
		_, err := provider.Void(ctx, ref, "void-"+payment.ID.String())
		s.metrics.ObserveCall(string(payment.Provider), "void", started, err)
		if err != nil {
			s.logg.Error(ctx, "payment void failed", err)
			return nil, err
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.applyVoided(ctx, tx, payment.ID, "no sub-order accepted", actor)
		})
		if err != nil {
			return nil, err
		}
		return s.GetForOrder(ctx, orderID)
	}

	started := time.Now()
	res, err := provider.Capture(ctx, ref, amount, payment.Currency, "capture-"+payment.ID.String())
	s.metrics.ObserveCall(string(payment.Provider), "capture", started, err)
	if err != nil {
		s.logg.Error(ctx, "payment capture failed", err)
		return nil, err
	}
	if res.Status != enums.PaymentStatusCaptured {
		return nil, pkgerrors.Newf(pkgerrors.CodeDependency, "provider reported %s after capture", res.Status)
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyCaptured(ctx, tx, payment.ID, amount, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.GetForOrder(ctx, orderID)
}

// Reconcile asks the provider for the current state of an open payment and
// applies it locally.
func (s *service) Reconcile(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	payment, err := s.GetForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.ProviderRef == nil {
		return payment, nil
	}
	if payment.Status != enums.PaymentStatusPending && payment.Status != enums.PaymentStatusAuthorized {
		return payment, nil
	}
	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	res, err := provider.Lookup(ctx, *payment.ProviderRef)
	s.metrics.ObserveCall(string(payment.Provider), "lookup", started, err)
	if err != nil {
		return nil, err
	}
	if res.Status == payment.Status {
		return payment, nil
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyResult(ctx, tx, payment.ID, res, outbox.SystemActor())
	})
	if err != nil {
		return nil, err
	}
	return s.GetForOrder(ctx, orderID)
}

// ReconcileStale reconciles payments left pending or authorized for longer
// than the acceptance window. Pending payments the provider never saw are
// failed so their stock returns to the catalog.
func (s *service) ReconcileStale(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.UTC().Add(-s.acceptanceWindow)
	orderIDs, err := s.repo.ListStale(ctx, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusAuthorized}, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}

	var (
		changed int
		errs    error
	)
	for _, orderID := range orderIDs {
		before, err := s.GetForOrder(ctx, orderID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		after, err := s.Reconcile(ctx, orderID)
		if err != nil {
			s.logg.Error(s.logg.WithOrder(ctx, orderID.String()), "payment reconcile failed", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
			continue
		}
		if after.Status == enums.PaymentStatusPending && after.ProviderRef == nil {
			err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.applyFailed(ctx, tx, after.ID, "authorization timed out", outbox.SystemActor())
			})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
				continue
			}
			changed++
			continue
		}
		if after.Status != before.Status {
			changed++
		}
	}
	return changed, errs
}

func allCancelled(subs []models.SellerSubOrder) bool {
	for _, sub := range subs {
		if sub.Status != enums.SubOrderStatusCancelled {
			return false
		}
	}
	return len(subs) > 0
}

func actorOrSystem(actor *outbox.ActorRef) *outbox.ActorRef {
	if actor == nil {
		return outbox.SystemActor()
	}
	return actor
}

func declineReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
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
