package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *testkit.Env) {
	t.Helper()
	env := testkit.New(t)
	svc, err := NewService(ServiceParams{
		Repo:         NewRepository(env.DB),
		Tx:           env.Client,
		States:       env.OrderState,
		Ledger:       env.Ledger,
		Compliance:   env.Compliance,
		Outbox:       env.Outbox,
		Logger:       env.Logger,
		ReturnWindow: testkit.Marketplace().ReturnWindow(),
	})
	require.NoError(t, err)
	return svc, env
}

func deliveredOrder(t *testing.T, env *testkit.Env, deliveredAt time.Time) *models.Order {
	t.Helper()
	at := deliveredAt.UTC()
	return dbtest.SeedOrder(t, env.DB, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusCaptured,
		SubOrders: []dbtest.SubOrderSeed{{
			Status:       enums.SubOrderStatusDelivered,
			EscrowStatus: enums.EscrowStatusHeld,
			DeliveredAt:  &at,
			Items:        []dbtest.ItemSeed{{UnitPriceCents: 5000, Quantity: 2, ShippedQty: 2, DeliveredQty: 2}},
		}},
	})
}

func TestReleaseAfterReturnWindow(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now().Add(-15*24*time.Hour))
	sub := order.SubOrders[0]
	require.NoError(t, env.DB.Model(&models.EscrowTransaction{}).
		Where("sub_order_id = ?", sub.ID).
		Update("commission_cents", 1000).Error)

	released, err := svc.Release(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, released.Status)
	assert.Equal(t, int64(9000), released.NetCents())

	assert.Equal(t, enums.SubOrderStatusCompleted, env.SubOrder(t, sub.ID).Status)
	reloaded := dbtest.ReloadOrder(t, env.DB, order.ID)
	assert.Equal(t, enums.OrderStatusCompleted, reloaded.Status)
	assert.Contains(t, env.LedgerTypes(t, order.ID), enums.LedgerEventTypeEscrowReleased)
	assert.Equal(t, int64(1), env.CountEvents(t, enums.EventEscrowReleased))

	again, err := svc.Release(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, again.Status)
	assert.Equal(t, int64(1), env.CountEvents(t, enums.EventEscrowReleased))
}

func TestReleaseBlockedInsideReturnWindow(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now().Add(-24*time.Hour))

	_, err := svc.Release(context.Background(), nil, order.SubOrders[0].ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.EscrowStatusHeld, env.Escrow(t, order.SubOrders[0].ID).Status)
}

func TestReleaseBlockedByOpenReturn(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now().Add(-20*24*time.Hour))
	sub := order.SubOrders[0]

	require.NoError(t, env.DB.Create(&models.ReturnRequest{
		SubOrderID:  sub.ID,
		OrderID:     order.ID,
		StoreID:     sub.StoreID,
		Status:      enums.ReturnStatusRequested,
		Initiator:   enums.ReturnInitiatorBuyer,
		Reason:      "damaged",
		BuyerUserID: order.BuyerUserID,
		RefundCents: 5000,
		RequestedAt: time.Now().UTC(),
	}).Error)

	_, err := svc.Release(context.Background(), nil, sub.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	n, err := svc.ReleaseEligible(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHoldBlocksRelease(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now().Add(-20*24*time.Hour))
	sub := order.SubOrders[0]
	admin := testkit.Actor(enums.ActorRoleAdmin, nil)

	err := svc.Hold(context.Background(), admin, sub.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.NoError(t, svc.Hold(context.Background(), admin, sub.ID, "chargeback review"))
	_, err = svc.Release(context.Background(), nil, sub.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	require.NoError(t, svc.Unhold(context.Background(), admin, sub.ID))
	n, err := svc.ReleaseEligible(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDebitNeverOverdraws(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now())
	sub := order.SubOrders[0]

	escrow, err := svc.Debit(context.Background(), env.DB, DebitInput{SubOrderID: sub.ID, AmountCents: 4000, CommissionReversedCents: 400})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusPartiallyRefunded, escrow.Status)
	assert.Equal(t, int64(6000), escrow.RemainingCents())

	_, err = svc.Debit(context.Background(), env.DB, DebitInput{SubOrderID: sub.ID, AmountCents: 6001})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	escrow, err = svc.Debit(context.Background(), env.DB, DebitInput{SubOrderID: sub.ID, AmountCents: 6000})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusRefunded, escrow.Status)
	assert.Zero(t, escrow.RemainingCents())
}

func TestReleasedEscrowCannotBeRefunded(t *testing.T) {
	svc, env := newTestService(t)
	order := dbtest.SeedOrder(t, env.DB, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusCaptured,
		SubOrders: []dbtest.SubOrderSeed{{
			Status:       enums.SubOrderStatusCompleted,
			EscrowStatus: enums.EscrowStatusReleased,
			Items:        []dbtest.ItemSeed{{UnitPriceCents: 1000, Quantity: 1}},
		}},
	})

	_, err := svc.CheckRefundable(context.Background(), nil, order.SubOrders[0].ID, 100)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Contains(t, err.Error(), "once released")
}

func TestFundAndCancel(t *testing.T) {
	svc, env := newTestService(t)
	order := dbtest.SeedOrder(t, env.DB, dbtest.OrderSeed{
		SubOrders: []dbtest.SubOrderSeed{
			{Items: []dbtest.ItemSeed{{UnitPriceCents: 1000, Quantity: 1}}},
			{Items: []dbtest.ItemSeed{{UnitPriceCents: 2000, Quantity: 1}}},
		},
	})
	first, second := order.SubOrders[0], order.SubOrders[1]

	funded, err := svc.Fund(context.Background(), env.DB, FundInput{SubOrderID: first.ID, AmountCents: 1000, CommissionCents: 100})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusHeld, funded.Status)
	assert.NotNil(t, funded.FundedAt)

	err = svc.Cancel(context.Background(), env.DB, first.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	require.NoError(t, svc.Cancel(context.Background(), env.DB, second.ID))
	require.NoError(t, svc.Cancel(context.Background(), env.DB, second.ID))
	assert.Equal(t, enums.EscrowStatusCancelled, env.Escrow(t, second.ID).Status)

	_, err = svc.Fund(context.Background(), env.DB, FundInput{SubOrderID: second.ID, AmountCents: 2000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestHoldRecordsCompliance(t *testing.T) {
	svc, env := newTestService(t)
	order := deliveredOrder(t, env, time.Now())
	sub := order.SubOrders[0]

	require.NoError(t, svc.Hold(context.Background(), outbox.SystemActor(), sub.ID, "fraud check"))
	var n int64
	require.NoError(t, env.DB.Model(&models.ComplianceLog{}).Where("action = ?", "escrow.hold").Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.True(t, env.Escrow(t, sub.ID).OnHold)
}
