package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

type fixture struct {
	svc    Service
	env    *testkit.Env
	manual *ManualProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testkit.New(t)
	cfg := testkit.Marketplace()

	commissionSvc, err := commissions.NewService(commissions.NewRepository(env.DB), env.Client, env.Ledger, env.Compliance, cfg.DefaultCommissionBps)
	require.NoError(t, err)
	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		Repo:         escrow.NewRepository(env.DB),
		Tx:           env.Client,
		States:       env.OrderState,
		Ledger:       env.Ledger,
		Compliance:   env.Compliance,
		Outbox:       env.Outbox,
		Logger:       env.Logger,
		ReturnWindow: cfg.ReturnWindow(),
	})
	require.NoError(t, err)

	manual := NewManualProvider()
	manager, err := NewManager("manual", nil, manual)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:             NewRepository(env.DB),
		Tx:               env.Client,
		Providers:        manager,
		States:           env.OrderState,
		Escrow:           escrowSvc,
		Commissions:      commissionSvc,
		Inventory:        env.Catalog,
		Ledger:           env.Ledger,
		Compliance:       env.Compliance,
		Outbox:           env.Outbox,
		Logger:           env.Logger,
		AcceptanceWindow: cfg.AcceptanceWindow(),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, env: env, manual: manual}
}

func (f *fixture) seed(t *testing.T, totals ...int64) *models.Order {
	t.Helper()
	subs := make([]dbtest.SubOrderSeed, 0, len(totals))
	for _, total := range totals {
		subs = append(subs, dbtest.SubOrderSeed{Items: []dbtest.ItemSeed{{UnitPriceCents: total, Quantity: 1}}})
	}
	return dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{SubOrders: subs})
}

func (f *fixture) move(t *testing.T, subOrderID uuid.UUID, to enums.SubOrderStatus) {
	t.Helper()
	sub, err := f.env.OrderState.Repo(f.env.DB).FindSubOrder(context.Background(), subOrderID)
	require.NoError(t, err)
	require.NoError(t, f.env.OrderState.TransitionSubOrder(context.Background(), f.env.DB, sub, orderstate.Transition{To: to}))
}

// captured authorizes, accepts every sub-order and captures.
func (f *fixture) captured(t *testing.T, totals ...int64) *models.Order {
	t.Helper()
	order := f.seed(t, totals...)
	_, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	for _, sub := range order.SubOrders {
		f.move(t, sub.ID, enums.SubOrderStatusPreparing)
	}
	payment, err := f.svc.CaptureIfReady(context.Background(), order.ID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCaptured, payment.Status)
	return order
}

func TestAuthorizeMovesSubOrdersToAwaitingAcceptance(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 3000, 2000)

	payment, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, payment.Status)
	assert.Equal(t, int64(5000), payment.AuthorizedCents)
	require.NotNil(t, payment.ProviderRef)

	reloaded := dbtest.ReloadOrder(t, f.env.DB, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	for _, sub := range reloaded.SubOrders {
		assert.Equal(t, enums.SubOrderStatusAwaitingAcceptance, sub.Status)
		assert.NotNil(t, sub.AcceptDeadline)
	}
	assert.Equal(t, []enums.LedgerEventType{enums.LedgerEventTypePaymentAuthorized}, f.env.LedgerTypes(t, order.ID))

	again, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, *payment.ProviderRef, *again.ProviderRef)
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventPaymentAuthorized))
}

func TestAuthorizeDeclineFailsOrderAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	store := dbtest.SeedStore(t, f.env.DB)
	product := dbtest.SeedProduct(t, f.env.DB, store.ID, 1500, 5)
	order := dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		SubOrders: []dbtest.SubOrderSeed{{
			StoreID: store.ID,
			Items:   []dbtest.ItemSeed{{ProductID: product.ID, UnitPriceCents: 1500, Quantity: 2}},
		}},
	})

	payment, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: ManualDeclineToken})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)

	reloaded := dbtest.ReloadOrder(t, f.env.DB, order.ID)
	assert.Equal(t, enums.OrderStatusPaymentFailed, reloaded.Status)
	sub := reloaded.SubOrders[0]
	assert.Equal(t, enums.SubOrderStatusCancelled, sub.Status)
	assert.Equal(t, "payment_failed", *sub.CancelReason)
	assert.Equal(t, enums.EscrowStatusCancelled, f.env.Escrow(t, sub.ID).Status)

	var stock models.Product
	require.NoError(t, f.env.DB.First(&stock, "id = ?", product.ID).Error)
	assert.Equal(t, 7, stock.Stock)
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventPaymentFailed))
}

func TestAuthorizeProviderOutageLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 1000)

	_, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: ManualUnavailableToken})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	payment, err := f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, enums.SubOrderStatusPendingPayment, f.env.SubOrder(t, order.SubOrders[0].ID).Status)
}

func TestCaptureIfReadyCapturesAcceptedSubOrdersOnly(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 10000, 4000)
	_, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	accepted, rejected := order.SubOrders[0], order.SubOrders[1]

	f.move(t, accepted.ID, enums.SubOrderStatusPreparing)
	payment, err := f.svc.CaptureIfReady(context.Background(), order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, payment.Status, "one seller has not answered yet")

	f.move(t, rejected.ID, enums.SubOrderStatusCancelled)
	payment, err = f.svc.CaptureIfReady(context.Background(), order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCaptured, payment.Status)
	assert.Equal(t, int64(10000), payment.CapturedCents)

	held := f.env.Escrow(t, accepted.ID)
	assert.Equal(t, enums.EscrowStatusHeld, held.Status)
	assert.Equal(t, int64(10000), held.AmountCents)
	assert.Equal(t, int64(1000), held.CommissionCents)
	assert.NotEqual(t, enums.EscrowStatusHeld, f.env.Escrow(t, rejected.ID).Status)

	types := f.env.LedgerTypes(t, order.ID)
	assert.Contains(t, types, enums.LedgerEventTypePaymentCaptured)
	assert.Contains(t, types, enums.LedgerEventTypeCommissionCharged)

	again, err := f.svc.CaptureIfReady(context.Background(), order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), again.CapturedCents)
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventPaymentCaptured))
}

func TestCaptureIfReadyVoidsWhenNothingAccepted(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 1000, 2000)
	_, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	for _, sub := range order.SubOrders {
		f.move(t, sub.ID, enums.SubOrderStatusCancelled)
	}

	payment, err := f.svc.CaptureIfReady(context.Background(), order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusVoided, payment.Status)
	assert.Contains(t, f.env.LedgerTypes(t, order.ID), enums.LedgerEventTypePaymentVoided)
	assert.Equal(t, enums.OrderStatusCancelled, dbtest.ReloadOrder(t, f.env.DB, order.ID).Status)
}

func TestRefundDebitsEscrowAndReversesCommission(t *testing.T) {
	f := newFixture(t)
	order := f.captured(t, 10000)
	sub := order.SubOrders[0]
	seller := testkit.Actor(enums.ActorRoleSeller, &sub.StoreID)

	refund, err := f.svc.Refund(context.Background(), RefundInput{SubOrderID: sub.ID, AmountCents: 5000, Reason: "damaged", Actor: seller})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusSucceeded, refund.Status)
	assert.NotNil(t, refund.AppliedAt)

	held := f.env.Escrow(t, sub.ID)
	assert.Equal(t, enums.EscrowStatusPartiallyRefunded, held.Status)
	assert.Equal(t, int64(5000), held.RemainingCents())
	assert.Equal(t, int64(500), held.CommissionReversedCents)

	payment, err := f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, payment.Status)
	assert.Equal(t, int64(5000), payment.RefundedCents)

	_, err = f.svc.Refund(context.Background(), RefundInput{SubOrderID: sub.ID, AmountCents: 5001, Reason: "too much"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Refund(context.Background(), RefundInput{SubOrderID: sub.ID, AmountCents: 5000, Reason: "rest"})
	require.NoError(t, err)
	held = f.env.Escrow(t, sub.ID)
	assert.Equal(t, enums.EscrowStatusRefunded, held.Status)
	assert.Equal(t, held.CommissionCents, held.CommissionReversedCents)
	assert.Equal(t, enums.SubOrderStatusRefunded, f.env.SubOrder(t, sub.ID).Status)
	assert.Equal(t, enums.OrderStatusRefunded, dbtest.ReloadOrder(t, f.env.DB, order.ID).Status)

	payment, err = f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
}

func TestDeclinedReturnRefundFailsButCancellationRefundStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.captured(t, 4000)
	sub := order.SubOrders[0]
	returnID := uuid.New()

	f.manual.FailNextRefund(pkgerrors.New(pkgerrors.CodePaymentDeclined, "card account closed"))
	_, err := f.svc.Refund(ctx, RefundInput{SubOrderID: sub.ID, AmountCents: 1000, Reason: "return", ReturnID: &returnID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined))

	f.manual.FailNextRefund(pkgerrors.New(pkgerrors.CodePaymentDeclined, "card account closed"))
	_, err = f.svc.Refund(ctx, RefundInput{SubOrderID: sub.ID, AmountCents: 1000, Reason: "items cancelled"})
	require.Error(t, err)

	refunds, err := f.svc.ListRefunds(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	byReturn := map[bool]models.Refund{}
	for _, r := range refunds {
		byReturn[r.ReturnID != nil] = r
	}
	assert.Equal(t, enums.RefundStatusFailed, byReturn[true].Status)
	cancelRefund := byReturn[false]
	assert.True(t, cancelRefund.Unsettled())
	assert.Equal(t, 1, byReturn[false].Attempts)

	_, err = f.svc.RetryRefund(ctx, byReturn[true].ID, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// The unsettled refund still counts against the escrow.
	_, err = f.svc.Refund(ctx, RefundInput{SubOrderID: sub.ID, AmountCents: 3001, Reason: "too much"})
	assert.Error(t, err)

	settled, err := f.svc.RetryRefund(ctx, byReturn[false].ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, settled.AppliedAt)
	again, err := f.svc.SettleRefund(ctx, settled.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, settled.ID, again.ID)
	assert.Equal(t, int64(3000), f.env.Escrow(t, sub.ID).RemainingCents())
}

func TestRefundRejectedOnceEscrowReleased(t *testing.T) {
	f := newFixture(t)
	order := dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusCaptured,
		ProviderRef:   "man_released",
		SubOrders: []dbtest.SubOrderSeed{{
			Status:       enums.SubOrderStatusCompleted,
			EscrowStatus: enums.EscrowStatusReleased,
			Items:        []dbtest.ItemSeed{{UnitPriceCents: 2000, Quantity: 1}},
		}},
	})

	_, err := f.svc.Refund(context.Background(), RefundInput{SubOrderID: order.SubOrders[0].ID, AmountCents: 100, Reason: "late"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	refunds, err := f.svc.ListRefunds(context.Background(), order.SubOrders[0].ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestRefundRequiresCapture(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 1000)

	_, err := f.svc.Refund(context.Background(), RefundInput{SubOrderID: order.SubOrders[0].ID, AmountCents: 100, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Refund(context.Background(), RefundInput{SubOrderID: order.SubOrders[0].ID, AmountCents: 0, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestHandleProviderEventAppliesOnce(t *testing.T) {
	f := newFixture(t)
	order := dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		Provider:    enums.PaymentProviderStripe,
		ProviderRef: "pi_123",
		SubOrders:   []dbtest.SubOrderSeed{{Items: []dbtest.ItemSeed{{UnitPriceCents: 2500, Quantity: 1}}}},
	})
	event := ProviderEvent{
		Provider:    enums.PaymentProviderStripe,
		EventID:     "evt_1",
		Type:        "payment_intent.amount_capturable_updated",
		Kind:        EventKindAuthorized,
		PaymentRef:  "pi_123",
		AmountCents: 2500,
	}

	applied, err := f.svc.HandleProviderEvent(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.svc.HandleProviderEvent(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, applied)

	payment, err := f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, payment.Status)
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventPaymentAuthorized))

	var stored int64
	require.NoError(t, f.env.DB.Model(&models.PaymentEvent{}).Count(&stored).Error)
	assert.Equal(t, int64(1), stored)
}

func TestShortCaptureFundsEscrowsProRata(t *testing.T) {
	f := newFixture(t)
	order := dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		Provider:    enums.PaymentProviderStripe,
		ProviderRef: "pi_short",
		SubOrders: []dbtest.SubOrderSeed{
			{Items: []dbtest.ItemSeed{{UnitPriceCents: 6000, Quantity: 1}}},
			{Items: []dbtest.ItemSeed{{UnitPriceCents: 4001, Quantity: 1}}},
		},
	})
	_, err := f.svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Provider: enums.PaymentProviderStripe, EventID: "evt_auth", Type: "payment_intent.amount_capturable_updated",
		Kind: EventKindAuthorized, PaymentRef: "pi_short", AmountCents: 10001,
	})
	require.NoError(t, err)
	for _, sub := range order.SubOrders {
		f.move(t, sub.ID, enums.SubOrderStatusPreparing)
	}

	_, err = f.svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Provider: enums.PaymentProviderStripe, EventID: "evt_capture", Type: "payment_intent.succeeded",
		Kind: EventKindCaptured, PaymentRef: "pi_short", AmountCents: 5000,
	})
	require.NoError(t, err)

	payment, err := f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCaptured, payment.Status)
	assert.Equal(t, int64(5000), payment.CapturedCents)

	first := f.env.Escrow(t, order.SubOrders[0].ID)
	second := f.env.Escrow(t, order.SubOrders[1].ID)
	assert.Equal(t, int64(3000), first.AmountCents)
	assert.Equal(t, int64(2000), second.AmountCents)
	assert.Equal(t, payment.CapturedCents, first.AmountCents+second.AmountCents)
}

func TestCaptureSharesKeepsFullAmountsWhenCapturedInFull(t *testing.T) {
	subs := []*models.SellerSubOrder{{TotalCents: 700}, {TotalCents: 400, CancelledCents: 100}}
	assert.Equal(t, []int64{700, 300}, captureShares(subs, 1000, 1000))

	shares := captureShares(subs, 333, 1000)
	assert.Equal(t, []int64{233, 100}, shares)
}

func TestHandleProviderEventAcknowledgesUnknownTypes(t *testing.T) {
	f := newFixture(t)

	applied, err := f.svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Provider: enums.PaymentProviderSquare,
		EventID:  "sq_evt_1",
		Type:     "customer.created",
		Kind:     EventKindUnknown,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = f.svc.HandleProviderEvent(context.Background(), ProviderEvent{Provider: enums.PaymentProviderSquare})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReconcileStaleFailsPaymentsTheProviderNeverSaw(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 1000)
	require.NoError(t, f.env.DB.Model(&models.PaymentTransaction{}).
		Where("order_id = ?", order.ID).
		Update("created_at", time.Now().UTC().Add(-72*time.Hour)).Error)

	changed, err := f.svc.ReconcileStale(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	payment, err := f.svc.GetForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	assert.Equal(t, enums.OrderStatusPaymentFailed, dbtest.ReloadOrder(t, f.env.DB, order.ID).Status)
}

func TestReconcileAppliesExpiredAuthorization(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, 1000)
	payment, err := f.svc.Authorize(context.Background(), order.ID, AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)

	f.manual.Expire(*payment.ProviderRef)
	payment, err = f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusVoided, payment.Status)
	assert.Equal(t, enums.SubOrderStatusCancelled, f.env.SubOrder(t, order.SubOrders[0].ID).Status)
}
