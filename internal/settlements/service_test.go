package settlements

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type fixture struct {
	env    *testkit.Env
	svc    Service
	store  models.Store
	period Period
	order  *models.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testkit.New(t)
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(env.DB),
		Tx:         env.Client,
		Compliance: env.Compliance,
		Outbox:     env.Outbox,
		Logger:     env.Logger,
	})
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	return &fixture{
		env:    env,
		svc:    svc,
		store:  dbtest.SeedStore(t, env.DB),
		period: Period{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
	}
}

func admin() *outbox.ActorRef { return testkit.Actor(enums.ActorRoleAdmin, nil) }

// sale seeds a funded sub-order for the fixture store.
func (f *fixture) sale(t *testing.T, cents int64) models.SellerSubOrder {
	t.Helper()
	f.order = dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusCaptured,
		SubOrders: []dbtest.SubOrderSeed{{
			StoreID:      f.store.ID,
			Status:       enums.SubOrderStatusDelivered,
			EscrowStatus: enums.EscrowStatusHeld,
			Items:        []dbtest.ItemSeed{{UnitPriceCents: cents, Quantity: 1}},
		}},
	})
	return f.order.SubOrders[0]
}

func (f *fixture) commission(t *testing.T, sub models.SellerSubOrder, kind enums.CommissionKind, cents int64) {
	t.Helper()
	require.NoError(t, f.env.DB.Create(&models.CommissionTransaction{
		SubOrderID:  sub.ID,
		StoreID:     f.store.ID,
		Kind:        kind,
		BaseCents:   cents * 10,
		RateBps:     1000,
		AmountCents: cents,
		Currency:    "USD",
		OccurredAt:  time.Now().UTC(),
	}).Error)
}

func (f *fixture) refund(t *testing.T, sub models.SellerSubOrder, cents int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.env.DB.Create(&models.Refund{
		SubOrderID:  sub.ID,
		OrderID:     sub.OrderID,
		StoreID:     f.store.ID,
		PaymentID:   f.order.Payment.ID,
		Provider:    enums.PaymentProviderManual,
		AmountCents: cents,
		Reason:      "damaged",
		Status:      enums.RefundStatusSucceeded,
		AppliedAt:   &now,
		SucceededAt: &now,
	}).Error)
}

func (f *fixture) payout(t *testing.T, cents int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.env.DB.Omit("Escrows").Create(&models.Payout{
		StoreID:     f.store.ID,
		Status:      enums.PayoutStatusPaid,
		Currency:    "USD",
		AmountCents: cents,
		Provider:    "manual",
		PaidAt:      &now,
	}).Error)
}

func itemTypes(s *models.Settlement) map[enums.SettlementItemType]int64 {
	out := map[enums.SettlementItemType]int64{}
	for _, item := range s.Items {
		out[item.Type] += item.AmountCents
	}
	return out
}

func TestGenerateBuildsDraftWithTotals(t *testing.T) {
	f := newFixture(t)
	sub := f.sale(t, 5000)
	f.commission(t, sub, enums.CommissionKindCharge, 500)
	f.refund(t, sub, 1000)
	f.payout(t, 2000)

	settlement, err := f.svc.Generate(context.Background(), admin(), f.store.ID, f.period)
	require.NoError(t, err)

	assert.Equal(t, enums.SettlementStatusDraft, settlement.Status)
	assert.Equal(t, int64(5000), settlement.GrossSalesCents)
	assert.Equal(t, int64(1000), settlement.RefundsCents)
	assert.Equal(t, int64(500), settlement.CommissionCents)
	assert.Equal(t, int64(3500), settlement.NetCents)
	assert.Equal(t, int64(2000), settlement.PaidOutCents)
	assert.Equal(t, int64(1500), settlement.ClosingBalanceCents)
	assert.Nil(t, settlement.CorrectsSettlementID)
	require.Len(t, settlement.Items, 4)
	assert.Equal(t, map[enums.SettlementItemType]int64{
		enums.SettlementItemTypeSale:       5000,
		enums.SettlementItemTypeRefund:     -1000,
		enums.SettlementItemTypeCommission: -500,
		enums.SettlementItemTypePayout:     -2000,
	}, itemTypes(settlement))

	var sum int64
	for _, item := range settlement.Items {
		sum += item.AmountCents
	}
	assert.Equal(t, settlement.ClosingBalanceCents, sum)
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventSettlementGenerated))
}

func TestGenerateRebuildsDraftInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.sale(t, 5000)
	f.commission(t, sub, enums.CommissionKindCharge, 500)

	first, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)

	f.commission(t, sub, enums.CommissionKindReversal, 100)
	second, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, int64(400), second.CommissionCents)
	assert.Len(t, second.Items, 3)
	assert.Equal(t, int64(100), itemTypes(second)[enums.SettlementItemTypeCommissionReversal])
}

func TestGenerateAfterFinalizeCreatesCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.sale(t, 5000)
	f.commission(t, sub, enums.CommissionKindCharge, 500)

	original, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)
	original, err = f.svc.Finalize(ctx, admin(), original.ID)
	require.NoError(t, err)
	require.NotNil(t, original.FinalizedAt)

	unchanged, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)
	assert.Equal(t, original.ID, unchanged.ID, "no activity change keeps the finalized settlement")

	f.refund(t, sub, 800)
	f.commission(t, sub, enums.CommissionKindReversal, 80)
	correction, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)

	require.NotEqual(t, original.ID, correction.ID)
	require.NotNil(t, correction.CorrectsSettlementID)
	assert.Equal(t, original.ID, *correction.CorrectsSettlementID)
	assert.Equal(t, enums.SettlementStatusDraft, correction.Status)
	assert.Equal(t, int64(800), correction.RefundsCents)
	assert.Equal(t, int64(420), correction.CommissionCents)
	assert.Equal(t, int64(3780), correction.NetCents)
	assert.Equal(t, map[enums.SettlementItemType]int64{
		enums.SettlementItemTypeRefund:             -800,
		enums.SettlementItemTypeCommissionReversal: 80,
	}, itemTypes(correction))

	prior, err := f.svc.Get(ctx, admin(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStatusSuperseded, prior.Status)

	f.refund(t, sub, 200)
	again, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)
	assert.Equal(t, correction.ID, again.ID, "draft correction is rebuilt against the same prior")
	assert.Equal(t, int64(-1000), itemTypes(again)[enums.SettlementItemTypeRefund])
}

func TestFinalizeRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sale(t, 1000)
	seller := testkit.Actor(enums.ActorRoleSeller, &f.store.ID)

	_, err := f.svc.Generate(ctx, seller, f.store.ID, f.period)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Generate(ctx, admin(), f.store.ID, Period{Start: f.period.End, End: f.period.Start})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	settlement, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, admin(), settlement.ID)
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, admin(), settlement.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, int64(1), f.env.CountEvents(t, enums.EventSettlementFinalized))
}

func TestGeneratePeriodFinalizesActiveStores(t *testing.T) {
	f := newFixture(t)
	f.sale(t, 1000)
	other := dbtest.SeedStore(t, f.env.DB)

	n, err := f.svc.GeneratePeriod(context.Background(), f.period, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var rows []models.Settlement
	require.NoError(t, f.env.DB.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, f.store.ID, rows[0].StoreID)
	assert.Equal(t, enums.SettlementStatusFinalized, rows[0].Status)
	assert.NotEqual(t, other.ID, rows[0].StoreID)
}

func TestListAndGetScopeToSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sale(t, 1000)
	mine, err := f.svc.Generate(ctx, admin(), f.store.ID, f.period)
	require.NoError(t, err)

	otherStore := dbtest.SeedStore(t, f.env.DB)
	f.store = otherStore
	f.sale(t, 2000)
	theirs, err := f.svc.Generate(ctx, admin(), otherStore.ID, f.period)
	require.NoError(t, err)

	seller := testkit.Actor(enums.ActorRoleSeller, &mine.StoreID)
	page, err := f.svc.List(ctx, seller, nil, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	_, err = f.svc.Get(ctx, seller, theirs.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	page, err = f.svc.List(ctx, admin(), nil, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	_, err = f.svc.Get(ctx, admin(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMonthBefore(t *testing.T) {
	p := MonthBefore(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), p.End)

	p = MonthBefore(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.End)
}
