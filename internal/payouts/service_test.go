package payouts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/pagination"
	pkgstripe "github.com/mercato/mercato-backend/pkg/stripe"
)

type fixture struct {
	env      *testkit.Env
	svc      Service
	transfer *ManualTransferer
	store    models.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testkit.New(t)
	transfer := NewManualTransferer()
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(env.DB),
		Tx:         env.Client,
		Transferer: transfer,
		Ledger:     env.Ledger,
		Compliance: env.Compliance,
		Outbox:     env.Outbox,
		Logger:     env.Logger,
	})
	require.NoError(t, err)
	return &fixture{env: env, svc: svc, transfer: transfer, store: dbtest.SeedStore(t, env.DB)}
}

// released seeds a completed sub-order whose escrow was released.
func (f *fixture) released(t *testing.T, cents, commission int64) models.EscrowTransaction {
	t.Helper()
	order := dbtest.SeedOrder(t, f.env.DB, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusCaptured,
		SubOrders: []dbtest.SubOrderSeed{{
			StoreID:      f.store.ID,
			Status:       enums.SubOrderStatusCompleted,
			EscrowStatus: enums.EscrowStatusReleased,
			Items:        []dbtest.ItemSeed{{UnitPriceCents: cents, Quantity: 1}},
		}},
	})
	escrow := f.env.Escrow(t, order.SubOrders[0].ID)
	require.NoError(t, f.env.DB.Model(&models.EscrowTransaction{}).Where("id = ?", escrow.ID).
		Update("commission_cents", commission).Error)
	return f.env.Escrow(t, order.SubOrders[0].ID)
}

func (f *fixture) schedule(t *testing.T, minimum int64) *models.PayoutSchedule {
	t.Helper()
	schedule, err := f.svc.UpsertSchedule(context.Background(), testkit.Actor(enums.ActorRoleAdmin, nil), f.store.ID, ScheduleInput{
		Frequency:    enums.PayoutFrequencyDaily,
		MinimumCents: minimum,
	})
	require.NoError(t, err)
	require.NoError(t, f.env.DB.Model(&models.PayoutSchedule{}).Where("id = ?", schedule.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Minute)).Error)
	return schedule
}

func (f *fixture) payouts(t *testing.T) []models.Payout {
	t.Helper()
	var rows []models.Payout
	require.NoError(t, f.env.DB.Preload("Escrows").Where("store_id = ?", f.store.ID).Find(&rows).Error)
	return rows
}

func TestUpsertScheduleCreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	seller := testkit.Actor(enums.ActorRoleSeller, &f.store.ID)

	created, err := f.svc.UpsertSchedule(context.Background(), seller, f.store.ID, ScheduleInput{
		Frequency: enums.PayoutFrequencyWeekly,
		Weekday:   intPtr(1),
	})
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.Equal(t, time.Monday, created.NextRunAt.Weekday())

	updated, err := f.svc.UpsertSchedule(context.Background(), seller, f.store.ID, ScheduleInput{
		Frequency:    enums.PayoutFrequencyMonthly,
		DayOfMonth:   intPtr(5),
		Weekday:      intPtr(3),
		MinimumCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Nil(t, updated.Weekday)
	assert.Equal(t, 5, updated.NextRunAt.Day())

	got, err := f.svc.GetSchedule(context.Background(), seller, f.store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.MinimumCents)
	assert.Equal(t, enums.PayoutFrequencyMonthly, got.Frequency)

	other := uuid.New()
	_, err = f.svc.GetSchedule(context.Background(), testkit.Actor(enums.ActorRoleSeller, &other), f.store.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestRunDuePaysNetOfReleasedEscrows(t *testing.T) {
	f := newFixture(t)
	first := f.released(t, 3000, 300)
	second := f.released(t, 2000, 200)
	schedule := f.schedule(t, 0)

	result, err := f.svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, RunResult{Schedules: 1, Created: 1, Paid: 1}, result)

	rows := f.payouts(t)
	require.Len(t, rows, 1)
	payout := rows[0]
	assert.Equal(t, enums.PayoutStatusPaid, payout.Status)
	assert.Equal(t, int64(4500), payout.AmountCents)
	assert.Equal(t, 1, payout.Attempts)
	require.NotNil(t, payout.ProviderRef)
	assert.Len(t, payout.Escrows, 2)
	for _, escrow := range []models.EscrowTransaction{first, second} {
		reloaded := f.env.Escrow(t, escrow.SubOrderID)
		require.NotNil(t, reloaded.PayoutID)
		assert.Equal(t, payout.ID, *reloaded.PayoutID)
	}

	var ledgerCount int64
	require.NoError(t, f.env.DB.Model(&models.LedgerEvent{}).
		Where("type = ? AND reference_id = ?", enums.LedgerEventTypePayoutPaid, payout.ID).Count(&ledgerCount).Error)
	assert.Equal(t, int64(1), ledgerCount)
	assert.Equal(t, int64(3), f.env.CountEvents(t, enums.EventPayoutStatusChanged))

	var reloaded models.PayoutSchedule
	require.NoError(t, f.env.DB.First(&reloaded, "id = ?", schedule.ID).Error)
	assert.True(t, reloaded.NextRunAt.After(time.Now().UTC()))
	assert.NotNil(t, reloaded.LastRunAt)

	result, err = f.svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Zero(t, result.Schedules)
}

func TestRunDueSkipsBelowMinimumButAdvances(t *testing.T) {
	f := newFixture(t)
	f.released(t, 1000, 100)
	schedule := f.schedule(t, 10000)

	result, err := f.svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Created)
	assert.Empty(t, f.payouts(t))

	var reloaded models.PayoutSchedule
	require.NoError(t, f.env.DB.First(&reloaded, "id = ?", schedule.ID).Error)
	assert.True(t, reloaded.NextRunAt.After(time.Now().UTC()))
}

func TestFailedPayoutCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.released(t, 5000, 500)
	f.schedule(t, 0)
	f.transfer.FailNext(errors.New("account restricted"))

	result, err := f.svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	rows := f.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].FailureReason)
	assert.Contains(t, *rows[0].FailureReason, "account restricted")

	seller := testkit.Actor(enums.ActorRoleSeller, &f.store.ID)
	paid, err := f.svc.Retry(context.Background(), seller, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPaid, paid.Status)
	assert.Equal(t, 2, paid.Attempts)
	assert.Nil(t, paid.FailureReason)

	_, err = f.svc.Retry(context.Background(), seller, rows[0].ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

// lostResponse sends the first transfer but reports a timeout, as when the
// rail accepts a transfer and the response never arrives.
type lostResponse struct {
	*ManualTransferer
	keys []string
}

func (l *lostResponse) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	l.keys = append(l.keys, req.IdempotencyKey)
	ref, err := l.ManualTransferer.Transfer(ctx, req)
	if len(l.keys) == 1 {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, context.DeadlineExceeded, "transfer timed out")
	}
	return ref, err
}

func TestRetryAfterLostResponseDoesNotSendTwice(t *testing.T) {
	f := newFixture(t)
	rail := &lostResponse{ManualTransferer: NewManualTransferer()}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(f.env.DB),
		Tx:         f.env.Client,
		Transferer: rail,
		Ledger:     f.env.Ledger,
		Compliance: f.env.Compliance,
		Outbox:     f.env.Outbox,
		Logger:     f.env.Logger,
	})
	require.NoError(t, err)
	f.released(t, 5000, 500)
	f.schedule(t, 0)

	result, err := svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	rows := f.payouts(t)
	require.Len(t, rows, 1)

	paid, err := svc.Retry(context.Background(), testkit.Actor(enums.ActorRoleAdmin, nil), rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPaid, paid.Status)

	require.Len(t, rail.keys, 2)
	assert.Equal(t, rail.keys[0], rail.keys[1])
	assert.Len(t, rail.sent, 1, "the retry must reuse the first transfer")
	require.NotNil(t, paid.ProviderRef)
	assert.Equal(t, rail.sent[rail.keys[0]], *paid.ProviderRef)
}

func TestCancelPendingPayoutFreesEscrows(t *testing.T) {
	f := newFixture(t)
	escrow := f.released(t, 4000, 400)
	schedule := f.schedule(t, 0)

	created, _, err := f.svc.(*service).collect(context.Background(), schedule.ID, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, created, 1)

	admin := testkit.Actor(enums.ActorRoleAdmin, nil)
	cancelled, err := f.svc.Cancel(context.Background(), admin, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCancelled, cancelled.Status)
	assert.Nil(t, f.env.Escrow(t, escrow.SubOrderID).PayoutID)

	_, err = f.svc.Cancel(context.Background(), admin, created[0].ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestListPinsSellersToTheirStore(t *testing.T) {
	f := newFixture(t)
	f.released(t, 2000, 0)
	f.schedule(t, 0)
	_, err := f.svc.RunDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)

	other := uuid.New()
	page, err := f.svc.List(context.Background(), testkit.Actor(enums.ActorRoleSeller, &other), Filter{StoreID: &f.store.ID}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = f.svc.List(context.Background(), testkit.Actor(enums.ActorRoleSeller, &f.store.ID), Filter{}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	_, err = f.svc.Get(context.Background(), testkit.Actor(enums.ActorRoleSeller, &other), page.Items[0].ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type fakeTransfers struct {
	params []pkgstripe.TransferParams
}

func (f *fakeTransfers) Transfer(_ context.Context, p pkgstripe.TransferParams) (*stripe.Transfer, error) {
	f.params = append(f.params, p)
	return &stripe.Transfer{ID: "tr_123"}, nil
}

func TestStripeTransfererSendsToConnectedAccount(t *testing.T) {
	api := &fakeTransfers{}
	transferer := NewStripeTransferer(api)
	account := "acct_123"
	payoutID := uuid.New()

	ref, err := transferer.Transfer(context.Background(), TransferRequest{
		PayoutID:       payoutID,
		Store:          models.Store{StripeAccountID: &account},
		AmountCents:    4500,
		Currency:       "USD",
		IdempotencyKey: "payout-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_123", ref)
	require.Len(t, api.params, 1)
	assert.Equal(t, "acct_123", api.params[0].Destination)
	assert.Equal(t, "payout_"+payoutID.String(), api.params[0].TransferGroup)

	_, err = transferer.Transfer(context.Background(), TransferRequest{Store: models.Store{}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
