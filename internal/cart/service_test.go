package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *testkit.Env) {
	t.Helper()
	env := testkit.New(t)
	svc, err := NewService(NewRepository(env.DB), env.Client, env.Catalog, env.Logger)
	require.NoError(t, err)
	return svc, env
}

func TestUpsertItemGroupsByStore(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	owner := Owner{UserID: &userID}

	storeA := dbtest.SeedStore(t, env.DB)
	storeB := dbtest.SeedStore(t, env.DB)
	a1 := dbtest.SeedProduct(t, env.DB, storeA.ID, 1000, 10)
	a2 := dbtest.SeedProduct(t, env.DB, storeA.ID, 250, 10)
	b1 := dbtest.SeedProduct(t, env.DB, storeB.ID, 4000, 1)

	_, err := svc.UpsertItem(ctx, owner, a1.ID, 2)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, owner, b1.ID, 1)
	require.NoError(t, err)
	view, err := svc.UpsertItem(ctx, owner, a2.ID, 4)
	require.NoError(t, err)

	require.Len(t, view.Groups, 2)
	assert.Equal(t, storeA.ID, view.Groups[0].StoreID)
	assert.Equal(t, int64(3000), view.Groups[0].SubtotalCents)
	assert.Equal(t, int64(4000), view.Groups[1].SubtotalCents)
	assert.Equal(t, int64(7000), view.TotalCents)
	assert.Equal(t, 7, view.ItemCount)

	view, err = svc.UpsertItem(ctx, owner, a1.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), view.TotalCents, "quantity is replaced, not added")

	view, err = svc.UpsertItem(ctx, owner, b1.ID, 0)
	require.NoError(t, err)
	require.Len(t, view.Groups, 1)
}

func TestUpsertItemSnapshotsPrice(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	owner := Owner{SessionToken: "anon-1"}
	store := dbtest.SeedStore(t, env.DB)
	product := dbtest.SeedProduct(t, env.DB, store.ID, 1500, 5)

	_, err := svc.UpsertItem(ctx, owner, product.ID, 1)
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(&models.Product{}).Where("id = ?", product.ID).Update("unit_price_cents", 9900).Error)

	view, err := svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), view.Groups[0].Items[0].UnitPriceCents)
}

func TestUpsertItemRejectsUnavailableProducts(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	owner := Owner{UserID: &userID}
	store := dbtest.SeedStore(t, env.DB)
	low := dbtest.SeedProduct(t, env.DB, store.ID, 100, 2)
	inactive := dbtest.SeedProduct(t, env.DB, store.ID, 100, 10)
	require.NoError(t, env.DB.Model(&models.Product{}).Where("id = ?", inactive.ID).Update("active", false).Error)
	euro := dbtest.SeedProduct(t, env.DB, store.ID, 100, 10)
	require.NoError(t, env.DB.Model(&models.Product{}).Where("id = ?", euro.ID).Update("currency", "EUR").Error)

	_, err := svc.UpsertItem(ctx, owner, low.ID, 3)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = svc.UpsertItem(ctx, owner, inactive.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpsertItem(ctx, owner, uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.UpsertItem(ctx, owner, low.ID, 1)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, owner, euro.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpsertItem(ctx, Owner{}, low.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestRemoveItemAndClear(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	owner := Owner{SessionToken: "anon-2"}
	store := dbtest.SeedStore(t, env.DB)
	p1 := dbtest.SeedProduct(t, env.DB, store.ID, 100, 10)
	p2 := dbtest.SeedProduct(t, env.DB, store.ID, 200, 10)

	_, err := svc.UpsertItem(ctx, owner, p1.ID, 1)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, owner, p2.ID, 1)
	require.NoError(t, err)

	view, err := svc.RemoveItem(ctx, owner, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), view.TotalCents)

	_, err = svc.RemoveItem(ctx, owner, p1.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.Clear(ctx, owner))
	view, err = svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, view.Groups)
	assert.NotNil(t, view.CartID)
}

func TestMergeSessionCartSumsQuantities(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	store := dbtest.SeedStore(t, env.DB)
	shared := dbtest.SeedProduct(t, env.DB, store.ID, 100, 20)
	anonOnly := dbtest.SeedProduct(t, env.DB, store.ID, 300, 20)

	_, err := svc.UpsertItem(ctx, Owner{UserID: &userID}, shared.ID, 2)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, Owner{SessionToken: "anon-3"}, shared.ID, 3)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, Owner{SessionToken: "anon-3"}, anonOnly.ID, 1)
	require.NoError(t, err)

	view, err := svc.MergeSessionCart(ctx, "anon-3", userID)
	require.NoError(t, err)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, 6, view.ItemCount)
	assert.Equal(t, int64(800), view.TotalCents)

	anon, err := svc.GetCart(ctx, Owner{SessionToken: "anon-3"})
	require.NoError(t, err)
	assert.Nil(t, anon.CartID)
}

func TestMergeSessionCartAttachesWhenUserHasNoCart(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	store := dbtest.SeedStore(t, env.DB)
	product := dbtest.SeedProduct(t, env.DB, store.ID, 100, 20)

	anon, err := svc.UpsertItem(ctx, Owner{SessionToken: "anon-4"}, product.ID, 2)
	require.NoError(t, err)

	view, err := svc.MergeSessionCart(ctx, "anon-4", userID)
	require.NoError(t, err)
	assert.Equal(t, anon.CartID, view.CartID)

	mine, err := svc.GetCart(ctx, Owner{UserID: &userID})
	require.NoError(t, err)
	assert.Equal(t, anon.CartID, mine.CartID)

	view, err = svc.MergeSessionCart(ctx, "anon-unknown", userID)
	require.NoError(t, err)
	assert.Equal(t, anon.CartID, view.CartID)
}

func TestGroupByStoreKeepsFirstSeenOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	groups := GroupByStore([]models.CartItem{
		{StoreID: b, UnitPriceCents: 100, Quantity: 1, Currency: "USD"},
		{StoreID: a, UnitPriceCents: 50, Quantity: 2, Currency: "USD"},
		{StoreID: b, UnitPriceCents: 10, Quantity: 3, Currency: "EUR"},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, b, groups[0].StoreID)
	assert.Equal(t, int64(130), groups[0].SubtotalCents)
	assert.Equal(t, 4, groups[0].ItemCount)
	assert.Equal(t, []string{"USD", "EUR"}, Currencies(groups[0].Items))
}
