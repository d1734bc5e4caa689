package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

type fakeRepository struct {
	createFn func(ctx context.Context, event *models.LedgerEvent) error
	events   []models.LedgerEvent

	totalsFrom time.Time
	totalsTo   time.Time
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	return nil
}

func (f *fakeRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	return f.events, nil
}


func (f *fakeRepository) TotalsByStore(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]TypeTotal, error) {
	f.totalsFrom, f.totalsTo = from, to
	return nil, nil
}

func TestService_RecordEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	orderID := uuid.New()
	storeID := uuid.New()
	var created *models.LedgerEvent
	repo.createFn = func(ctx context.Context, event *models.LedgerEvent) error {
		created = event
		return nil
	}

	got, err := svc.RecordEvent(context.Background(), nil, RecordLedgerEventInput{
		OrderID:     &orderID,
		StoreID:     &storeID,
		Type:        enums.LedgerEventTypePaymentCaptured,
		AmountCents: 4250,
		Currency:    "usd",
		Metadata:    map[string]any{"provider": "stripe"},
	})
	if err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	if created == nil {
		t.Fatal("expected ledger event to be created")
	}
	if got != created {
		t.Fatalf("service should return created event")
	}
	if created.Currency != "USD" || created.AmountCents != 4250 {
		t.Fatalf("unexpected ledger event data: %+v", created)
	}
	if string(created.Metadata) != `{"provider":"stripe"}` {
		t.Fatalf("metadata mismatch: %s", created.Metadata)
	}
}

func TestService_RecordEventValidation(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	require.NoError(t, err)

	orderID := uuid.New()
	cases := map[string]RecordLedgerEventInput{
		"bad type":        {OrderID: &orderID, Type: "bogus", AmountCents: 1, Currency: "USD"},
		"no subject":      {Type: enums.LedgerEventTypeRefundIssued, AmountCents: 1, Currency: "USD"},
		"negative amount": {OrderID: &orderID, Type: enums.LedgerEventTypeRefundIssued, AmountCents: -1, Currency: "USD"},
		"no currency":     {OrderID: &orderID, Type: enums.LedgerEventTypeRefundIssued, AmountCents: 1},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RecordEvent(context.Background(), nil, input)
			assert.Error(t, err)
		})
	}
}

func TestService_RecordEventPropagatesRepoError(t *testing.T) {
	repo := &fakeRepository{createFn: func(context.Context, *models.LedgerEvent) error {
		return errors.New("insert failed")
	}}
	svc, err := NewService(repo)
	require.NoError(t, err)

	storeID := uuid.New()
	_, err = svc.RecordEvent(context.Background(), nil, RecordLedgerEventInput{
		StoreID:     &storeID,
		Type:        enums.LedgerEventTypePayoutPaid,
		AmountCents: 100,
		Currency:    "USD",
	})
	require.EqualError(t, err, "insert failed")
}

func TestRepository_ListByOrderID(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	orderID := uuid.New()
	for _, typ := range []enums.LedgerEventType{enums.LedgerEventTypePaymentAuthorized, enums.LedgerEventTypePaymentCaptured} {
		_, err := svc.RecordEvent(context.Background(), conn, RecordLedgerEventInput{
			OrderID:     &orderID,
			Type:        typ,
			AmountCents: 1000,
			Currency:    "USD",
		})
		require.NoError(t, err)
	}

	events, err := svc.ListForOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestService_StoreTotalsValidatesPeriod(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*3600))
	_, err = svc.StoreTotals(context.Background(), uuid.New(), from, from)
	assert.Error(t, err)
	_, err = svc.StoreTotals(context.Background(), uuid.Nil, from, from.Add(time.Hour))
	assert.Error(t, err)

	_, err = svc.StoreTotals(context.Background(), uuid.New(), from, from.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, repo.totalsFrom.Location())
	assert.Equal(t, time.UTC, repo.totalsTo.Location())
}

func TestRepository_TotalsByStore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	orderID := uuid.New()
	storeID := uuid.New()
	otherStore := uuid.New()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.LedgerEvent{
		{OrderID: &orderID, StoreID: &storeID, Type: enums.LedgerEventTypePaymentCaptured, AmountCents: 1000, Currency: "USD", CreatedAt: base},
		{OrderID: &orderID, StoreID: &storeID, Type: enums.LedgerEventTypePaymentCaptured, AmountCents: 500, Currency: "USD", CreatedAt: base.Add(time.Hour)},
		{OrderID: &orderID, StoreID: &storeID, Type: enums.LedgerEventTypeRefundIssued, AmountCents: 200, Currency: "USD", CreatedAt: base.Add(2 * time.Hour)},
		{OrderID: &orderID, StoreID: &storeID, Type: enums.LedgerEventTypePaymentCaptured, AmountCents: 9000, Currency: "USD", CreatedAt: base.AddDate(0, 1, 0)},
		{StoreID: &otherStore, Type: enums.LedgerEventTypePaymentCaptured, AmountCents: 7000, Currency: "USD", CreatedAt: base},
	}
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}

	totals, err := repo.TotalsByStore(ctx, storeID, base.Add(-time.Hour), base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	byType := map[enums.LedgerEventType]TypeTotal{}
	for _, total := range totals {
		byType[total.Type] = total
	}
	assert.Equal(t, int64(2), byType[enums.LedgerEventTypePaymentCaptured].Count)
	assert.Equal(t, int64(1500), byType[enums.LedgerEventTypePaymentCaptured].AmountCents)
	assert.Equal(t, int64(200), byType[enums.LedgerEventTypeRefundIssued].AmountCents)
}
