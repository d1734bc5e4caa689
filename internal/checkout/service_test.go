package checkout

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/cart"
	"github.com/mercato/mercato-backend/internal/testkit/stack"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/types"
)

type fixture struct {
	*stack.Stack
	svc   Service
	carts cart.Service
	buyer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := stack.New(t)
	carts := cart.NewRepository(st.DB)
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(st.DB),
		Carts:      carts,
		Tx:         st.Client,
		Catalog:    st.Catalog,
		States:     st.OrderState,
		Escrow:     st.Escrow,
		Payments:   st.Payments,
		Compliance: st.Compliance,
		Outbox:     st.Outbox,
		Logger:     st.Logger,
	})
	require.NoError(t, err)
	cartSvc, err := cart.NewService(carts, st.Client, st.Catalog, st.Logger)
	require.NoError(t, err)
	return &fixture{Stack: st, svc: svc, carts: cartSvc, buyer: uuid.New()}
}

func (f *fixture) add(t *testing.T, product models.Product, qty int) uuid.UUID {
	t.Helper()
	view, err := f.carts.UpsertItem(context.Background(), cart.Owner{UserID: &f.buyer}, product.ID, qty)
	require.NoError(t, err)
	return *view.CartID
}

func address() types.Address {
	return types.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
}

func (f *fixture) input(cartID uuid.UUID) Input {
	return Input{
		BuyerUserID:        f.buyer,
		CartID:             cartID,
		Currency:           "USD",
		ShippingAddress:    address(),
		PaymentMethodToken: "pm_card",
	}
}

func TestExecuteSplitsOrderPerStore(t *testing.T) {
	f := newFixture(t)
	storeA := dbtest.SeedStore(t, f.DB)
	storeB := dbtest.SeedStore(t, f.DB)
	a := dbtest.SeedProduct(t, f.DB, storeA.ID, 1200, 5)
	b := dbtest.SeedProduct(t, f.DB, storeB.ID, 800, 5)
	f.add(t, a, 2)
	cartID := f.add(t, b, 1)

	order, err := f.svc.Execute(context.Background(), f.input(cartID))
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^MRC-\d{8}-[A-Z2-7]{6}$`), order.Number)
	assert.Equal(t, int64(3200), order.TotalCents)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	assert.Equal(t, enums.PaymentProviderManual, order.PaymentProvider)
	require.Len(t, order.SubOrders, 2)
	assert.Equal(t, order.Number+"-1", order.SubOrders[0].Number)
	assert.Equal(t, order.Number+"-2", order.SubOrders[1].Number)

	var total int64
	for _, sub := range order.SubOrders {
		assert.Equal(t, enums.SubOrderStatusAwaitingAcceptance, sub.Status)
		require.NotNil(t, sub.Escrow)
		assert.Equal(t, enums.EscrowStatusPending, sub.Escrow.Status)
		total += sub.TotalCents
	}
	assert.Equal(t, order.TotalCents, total)
	require.NotNil(t, order.Payment)
	assert.Equal(t, enums.PaymentStatusAuthorized, order.Payment.Status)

	var stock models.Product
	require.NoError(t, f.DB.First(&stock, "id = ?", a.ID).Error)
	assert.Equal(t, 3, stock.Stock)

	var converted models.Cart
	require.NoError(t, f.DB.First(&converted, "id = ?", cartID).Error)
	assert.Equal(t, enums.CartStatusConverted, converted.Status)
	assert.Equal(t, int64(1), f.CountEvents(t, enums.EventOrderCreated))
}

func TestExecuteIsIdempotentPerCart(t *testing.T) {
	f := newFixture(t)
	store := dbtest.SeedStore(t, f.DB)
	product := dbtest.SeedProduct(t, f.DB, store.ID, 500, 5)
	cartID := f.add(t, product, 1)

	first, err := f.svc.Execute(context.Background(), f.input(cartID))
	require.NoError(t, err)
	second, err := f.svc.Execute(context.Background(), f.input(cartID))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.CountEvents(t, enums.EventOrderCreated))
}

func TestExecuteDeclineReturnsFailedOrder(t *testing.T) {
	f := newFixture(t)
	store := dbtest.SeedStore(t, f.DB)
	product := dbtest.SeedProduct(t, f.DB, store.ID, 500, 5)
	cartID := f.add(t, product, 2)

	in := f.input(cartID)
	in.PaymentMethodToken = "manual_decline"
	order, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentFailed, order.Status)
	assert.Equal(t, enums.SubOrderStatusCancelled, order.SubOrders[0].Status)

	var stock models.Product
	require.NoError(t, f.DB.First(&stock, "id = ?", product.ID).Error)
	assert.Equal(t, 5, stock.Stock)
}

func TestExecuteRejectsInvalidCarts(t *testing.T) {
	f := newFixture(t)
	store := dbtest.SeedStore(t, f.DB)
	product := dbtest.SeedProduct(t, f.DB, store.ID, 500, 1)
	cartID := f.add(t, product, 1)

	in := f.input(cartID)
	in.Currency = "EUR"
	_, err := f.svc.Execute(context.Background(), in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	in = f.input(cartID)
	in.BuyerUserID = uuid.New()
	_, err = f.svc.Execute(context.Background(), in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	in = f.input(cartID)
	in.ShippingAddress.Country = "USA"
	_, err = f.svc.Execute(context.Background(), in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.NoError(t, f.carts.Clear(context.Background(), cart.Owner{UserID: &f.buyer}))
	_, err = f.svc.Execute(context.Background(), f.input(cartID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestExecuteRollsBackOnShortStock(t *testing.T) {
	f := newFixture(t)
	store := dbtest.SeedStore(t, f.DB)
	plenty := dbtest.SeedProduct(t, f.DB, store.ID, 500, 10)
	scarce := dbtest.SeedProduct(t, f.DB, store.ID, 500, 3)
	f.add(t, plenty, 2)
	cartID := f.add(t, scarce, 3)
	require.NoError(t, f.DB.Model(&models.Product{}).Where("id = ?", scarce.ID).Update("stock", 1).Error)

	_, err := f.svc.Execute(context.Background(), f.input(cartID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	var stock models.Product
	require.NoError(t, f.DB.First(&stock, "id = ?", plenty.ID).Error)
	assert.Equal(t, 10, stock.Stock)
	var orders int64
	require.NoError(t, f.DB.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestOrderNumberFormat(t *testing.T) {
	number, err := OrderNumber(mustDate(t))
	require.NoError(t, err)
	assert.Regexp(t, `^MRC-20260314-[A-Z2-7]{6}$`, number)
	assert.Equal(t, number+"-3", SubOrderNumber(number, 3))
}

func mustDate(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", "2026-03-14")
	require.NoError(t, err)
	return d
}
