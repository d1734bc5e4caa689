package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/internal/testkit/stack"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type fixture struct {
	*stack.Stack
	svc   Service
	buyer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := stack.New(t)
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(st.DB),
		Tx:         st.Client,
		States:     st.OrderState,
		Escrow:     st.Escrow,
		Payments:   st.Payments,
		Inventory:  st.Catalog,
		Compliance: st.Compliance,
		Outbox:     st.Outbox,
		Logger:     st.Logger,
	})
	require.NoError(t, err)
	return &fixture{Stack: st, svc: svc, buyer: uuid.New()}
}

type line struct {
	price int64
	qty   int
}

type placed struct {
	order    *models.Order
	stores   []uuid.UUID
	products [][]models.Product
}

// place seeds one sub-order per store and authorizes the payment, leaving
// every sub-order awaiting acceptance.
func (f *fixture) place(t *testing.T, stores ...[]line) placed {
	t.Helper()
	out := placed{}
	seeds := make([]dbtest.SubOrderSeed, 0, len(stores))
	for _, lines := range stores {
		store := dbtest.SeedStore(t, f.DB)
		seed := dbtest.SubOrderSeed{StoreID: store.ID}
		var products []models.Product
		for _, l := range lines {
			product := dbtest.SeedProduct(t, f.DB, store.ID, l.price, 10)
			products = append(products, product)
			seed.Items = append(seed.Items, dbtest.ItemSeed{ProductID: product.ID, UnitPriceCents: l.price, Quantity: l.qty})
		}
		out.stores = append(out.stores, store.ID)
		out.products = append(out.products, products)
		seeds = append(seeds, seed)
	}
	order := dbtest.SeedOrder(t, f.DB, dbtest.OrderSeed{BuyerUserID: f.buyer, SubOrders: seeds})
	_, err := f.Payments.Authorize(context.Background(), order.ID, payments.AuthorizeOptions{PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	out.order = dbtest.ReloadOrder(t, f.DB, order.ID)
	return out
}

// accepted places the order and has every seller accept, which captures.
func (f *fixture) accepted(t *testing.T, stores ...[]line) placed {
	t.Helper()
	p := f.place(t, stores...)
	for _, sub := range p.order.SubOrders {
		_, err := f.svc.Accept(context.Background(), f.seller(sub.StoreID), sub.ID)
		require.NoError(t, err)
	}
	payment, err := f.Payments.GetForOrder(context.Background(), p.order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCaptured, payment.Status)
	p.order = dbtest.ReloadOrder(t, f.DB, p.order.ID)
	return p
}

func (f *fixture) seller(storeID uuid.UUID) *outbox.ActorRef {
	return testkit.Actor(enums.ActorRoleSeller, &storeID)
}

func (f *fixture) buyerActor() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: &f.buyer, Role: enums.ActorRoleBuyer}
}

func (f *fixture) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, f.DB.First(&product, "id = ?", productID).Error)
	return product.Stock
}

func TestAcceptCapturesOnceEverySellerAnswers(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 3000, qty: 1}}, []line{{price: 2000, qty: 2}})
	subA, subB := p.order.SubOrders[0], p.order.SubOrders[1]

	got, err := f.svc.Accept(context.Background(), f.seller(subA.StoreID), subA.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubOrderStatusPreparing, got.Status)
	assert.NotNil(t, got.AcceptedAt)

	payment, err := f.Payments.GetForOrder(context.Background(), p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, payment.Status)

	rejected, err := f.svc.Reject(context.Background(), f.seller(subB.StoreID), subB.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, enums.SubOrderStatusCancelled, rejected.Status)
	require.NotNil(t, rejected.CancelReason)
	assert.Equal(t, "out of stock", *rejected.CancelReason)

	payment, err = f.Payments.GetForOrder(context.Background(), p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCaptured, payment.Status)
	assert.Equal(t, int64(3000), payment.CapturedCents)

	assert.Equal(t, enums.EscrowStatusHeld, f.Env.Escrow(t, subA.ID).Status)
	assert.Equal(t, enums.EscrowStatusCancelled, f.Env.Escrow(t, subB.ID).Status)
	productB := p.products[1][0]
	assert.Equal(t, 12, f.stock(t, productB.ID))

	order := dbtest.ReloadOrder(t, f.DB, p.order.ID)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
}

func TestAcceptRejectsOtherStoresAndRepeats(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 1000, qty: 1}})
	sub := p.order.SubOrders[0]

	_, err := f.svc.Accept(context.Background(), f.seller(uuid.New()), sub.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Accept(context.Background(), f.seller(sub.StoreID), sub.ID)
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), f.seller(sub.StoreID), sub.ID, "changed my mind")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Reject(context.Background(), f.seller(sub.StoreID), sub.ID, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestShipPartialThenRemaining(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 1000, qty: 3}, {price: 500, qty: 1}})
	sub := p.order.SubOrders[0]
	seller := f.seller(sub.StoreID)
	first := sub.Items[0]
	if first.Quantity != 3 {
		first = sub.Items[1]
	}

	_, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{
		Items:          []ItemQuantity{{OrderItemID: first.ID, Quantity: 4}},
		Carrier:        "ups",
		TrackingNumber: "1Z1",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	shipment, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{
		Items:          []ItemQuantity{{OrderItemID: first.ID, Quantity: 2}},
		Carrier:        "ups",
		TrackingNumber: "1Z1",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipment.Status)
	require.Len(t, shipment.Items, 1)
	assert.Equal(t, enums.SubOrderStatusPartiallyShipped, f.SubOrder(t, sub.ID).Status)
	assert.Equal(t, enums.OrderStatusPartiallyFulfilled, dbtest.ReloadOrder(t, f.DB, p.order.ID).Status)

	rest, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{Carrier: "ups", TrackingNumber: "1Z2"})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 2)

	reloaded := f.SubOrder(t, sub.ID)
	assert.Equal(t, enums.SubOrderStatusShipped, reloaded.Status)
	assert.NotNil(t, reloaded.ShippedAt)
	assert.Equal(t, int64(2), f.CountEvents(t, enums.EventShipmentCreated))

	_, err = f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{Carrier: "ups", TrackingNumber: "1Z3"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestShipRequiresCapturedPayment(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 1000, qty: 1}}, []line{{price: 1000, qty: 1}})
	sub := p.order.SubOrders[0]
	_, err := f.svc.Accept(context.Background(), f.seller(sub.StoreID), sub.ID)
	require.NoError(t, err)

	_, err = f.svc.Ship(context.Background(), f.seller(sub.StoreID), sub.ID, ShipInput{Carrier: "ups", TrackingNumber: "1Z"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestMarkDeliveredAfterEveryShipmentArrives(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 1000, qty: 2}})
	sub := p.order.SubOrders[0]
	seller := f.seller(sub.StoreID)
	item := sub.Items[0]

	first, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{
		Items:          []ItemQuantity{{OrderItemID: item.ID, Quantity: 1}},
		Carrier:        "dhl",
		TrackingNumber: "A",
	})
	require.NoError(t, err)
	second, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{Carrier: "dhl", TrackingNumber: "B"})
	require.NoError(t, err)

	_, err = f.svc.MarkDelivered(context.Background(), testkit.Actor(enums.ActorRoleBuyer, nil), first.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	delivered, err := f.svc.MarkDelivered(context.Background(), seller, first.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusDelivered, delivered.Status)
	assert.Equal(t, enums.SubOrderStatusShipped, f.SubOrder(t, sub.ID).Status)

	_, err = f.svc.MarkDelivered(context.Background(), f.buyerActor(), second.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkDelivered(context.Background(), f.buyerActor(), second.ID)
	require.NoError(t, err)

	reloaded := f.SubOrder(t, sub.ID)
	assert.Equal(t, enums.SubOrderStatusDelivered, reloaded.Status)
	assert.NotNil(t, reloaded.DeliveredAt)
	assert.Equal(t, 2, reloaded.Items[0].DeliveredQty)
	assert.Equal(t, enums.OrderItemStatusDelivered, reloaded.Items[0].Status)
	assert.Equal(t, enums.OrderStatusFulfilled, dbtest.ReloadOrder(t, f.DB, p.order.ID).Status)
	assert.Equal(t, int64(2), f.CountEvents(t, enums.EventShipmentDelivered))
}

func TestCancelItemsRefundsCapturedValue(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 1000, qty: 3}})
	sub := p.order.SubOrders[0]
	item := sub.Items[0]

	got, err := f.svc.CancelItems(context.Background(), f.seller(sub.StoreID), sub.ID,
		[]ItemQuantity{{OrderItemID: item.ID, Quantity: 1}}, "damaged in warehouse")
	require.NoError(t, err)
	assert.Equal(t, enums.SubOrderStatusPreparing, got.Status)
	assert.Equal(t, int64(1000), got.CancelledCents)
	assert.Equal(t, int64(1000), got.RefundedCents)
	assert.Equal(t, 1, got.Items[0].CancelledQty)

	escrow := f.Env.Escrow(t, sub.ID)
	assert.Equal(t, enums.EscrowStatusPartiallyRefunded, escrow.Status)
	assert.Equal(t, int64(2000), escrow.RemainingCents())
	assert.Equal(t, 11, f.stock(t, p.products[0][0].ID))
	assert.Equal(t, int64(1), f.CountEvents(t, enums.EventItemsCancelled))

	_, err = f.svc.CancelItems(context.Background(), f.seller(sub.StoreID), sub.ID,
		[]ItemQuantity{{OrderItemID: item.ID, Quantity: 3}}, "again")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCancelItemsBeforeCaptureClosesSubOrder(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 1500, qty: 2}})
	sub := p.order.SubOrders[0]

	got, err := f.svc.CancelItems(context.Background(), f.seller(sub.StoreID), sub.ID,
		[]ItemQuantity{{OrderItemID: sub.Items[0].ID, Quantity: 2}}, "discontinued")
	require.NoError(t, err)
	assert.Equal(t, enums.SubOrderStatusCancelled, got.Status)
	assert.Equal(t, enums.EscrowStatusCancelled, f.Env.Escrow(t, sub.ID).Status)

	payment, err := f.Payments.GetForOrder(context.Background(), p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusVoided, payment.Status)
	assert.Equal(t, enums.OrderStatusCancelled, dbtest.ReloadOrder(t, f.DB, p.order.ID).Status)
}

func TestCancelItemsFinishingShipmentMovesToShipped(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 1000, qty: 2}})
	sub := p.order.SubOrders[0]
	seller := f.seller(sub.StoreID)
	item := sub.Items[0]

	_, err := f.svc.Ship(context.Background(), seller, sub.ID, ShipInput{
		Items:          []ItemQuantity{{OrderItemID: item.ID, Quantity: 1}},
		Carrier:        "usps",
		TrackingNumber: "9400",
	})
	require.NoError(t, err)

	got, err := f.svc.CancelItems(context.Background(), seller, sub.ID, []ItemQuantity{{OrderItemID: item.ID, Quantity: 1}}, "backorder")
	require.NoError(t, err)
	assert.Equal(t, enums.SubOrderStatusShipped, got.Status)
	assert.Equal(t, enums.OrderItemStatusShipped, got.Items[0].Status)
}

func (f *fixture) refunds(t *testing.T, subOrderID uuid.UUID) []models.Refund {
	t.Helper()
	refunds, err := f.Payments.ListRefunds(context.Background(), subOrderID)
	require.NoError(t, err)
	return refunds
}

func TestCancelItemsKeepsRefundPendingWhenProviderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.accepted(t, []line{{price: 1000, qty: 2}})
	sub := p.order.SubOrders[0]
	admin := testkit.Actor(enums.ActorRoleAdmin, nil)

	f.Manual.FailNextRefund(pkgerrors.New(pkgerrors.CodePaymentDeclined, "card account closed"))
	got, err := f.svc.CancelItems(ctx, f.seller(sub.StoreID), sub.ID,
		[]ItemQuantity{{OrderItemID: sub.Items[0].ID, Quantity: 1}}, "out of stock")
	require.NoError(t, err, "the cancellation stands even when the refund does not settle")
	assert.Equal(t, int64(1000), got.CancelledCents)
	assert.Equal(t, int64(0), got.RefundedCents)

	refunds := f.refunds(t, sub.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, enums.RefundStatusPending, refunds[0].Status)
	assert.Nil(t, refunds[0].AppliedAt)
	assert.Equal(t, 1, refunds[0].Attempts)
	assert.Equal(t, int64(2000), f.Env.Escrow(t, sub.ID).RemainingCents())

	f.Deliver(t, sub.ID)
	require.NoError(t, f.DB.Model(&models.SellerSubOrder{}).Where("id = ?", sub.ID).
		Update("delivered_at", time.Now().UTC().AddDate(-1, 0, 0)).Error)

	_, err = f.Escrow.Release(ctx, admin, sub.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Contains(t, err.Error(), "refund is still settling")
	released, err := f.Escrow.ReleaseEligible(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	settled, err := f.Payments.SettleCancellationRefunds(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	refunds = f.refunds(t, sub.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, enums.RefundStatusSucceeded, refunds[0].Status)
	assert.NotNil(t, refunds[0].AppliedAt)
	assert.Equal(t, int64(1000), f.Env.Escrow(t, sub.ID).RemainingCents())
	assert.Equal(t, int64(1000), f.Env.SubOrder(t, sub.ID).RefundedCents)

	escrow, err := f.Escrow.Release(ctx, admin, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, escrow.Status)
}

func TestCancelOrderRefundRetriedByAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.accepted(t, []line{{price: 2500, qty: 1}})
	sub := p.order.SubOrders[0]

	f.Manual.FailNextRefund(pkgerrors.New(pkgerrors.CodeDependency, "provider timeout"))
	order, err := f.svc.CancelOrder(ctx, f.buyerActor(), p.order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	refunds := f.refunds(t, sub.ID)
	require.Len(t, refunds, 1)
	require.True(t, refunds[0].Unsettled())
	assert.Equal(t, int64(2500), f.Env.Escrow(t, sub.ID).RemainingCents())

	_, err = f.Payments.SettleCancellationRefunds(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.True(t, f.refunds(t, sub.ID)[0].Unsettled(), "a fresh refund is left to its first attempt")

	refund, err := f.Payments.RetryRefund(ctx, refunds[0].ID, testkit.Actor(enums.ActorRoleAdmin, nil))
	require.NoError(t, err)
	assert.NotNil(t, refund.AppliedAt)
	assert.Equal(t, enums.EscrowStatusRefunded, f.Env.Escrow(t, sub.ID).Status)

	payment, err := f.Payments.GetForOrder(ctx, p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, int64(2500), payment.RefundedCents)
}

func TestCancelOrderRefundsCapturedSubOrders(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 2500, qty: 1}}, []line{{price: 1500, qty: 1}})

	_, err := f.svc.CancelOrder(context.Background(), testkit.Actor(enums.ActorRoleBuyer, nil), p.order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	order, err := f.svc.CancelOrder(context.Background(), f.buyerActor(), p.order.ID, "found it cheaper")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	payment, err := f.Payments.GetForOrder(context.Background(), p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, int64(4000), payment.RefundedCents)
	for _, sub := range order.SubOrders {
		assert.Equal(t, enums.SubOrderStatusCancelled, sub.Status)
		assert.Equal(t, enums.EscrowStatusRefunded, f.Env.Escrow(t, sub.ID).Status)
	}
}

func TestCancelOrderBeforeCaptureVoids(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 900, qty: 1}})

	order, err := f.svc.CancelOrder(context.Background(), f.buyerActor(), p.order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	assert.Equal(t, enums.PaymentStatusVoided, order.Payment.Status)
	assert.Equal(t, 11, f.stock(t, p.products[0][0].ID))
}

func TestCancelOrderRejectedAfterShipment(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t, []line{{price: 1000, qty: 1}})
	sub := p.order.SubOrders[0]
	_, err := f.svc.Ship(context.Background(), f.seller(sub.StoreID), sub.ID, ShipInput{Carrier: "ups", TrackingNumber: "1Z"})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), f.buyerActor(), p.order.ID, "too late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRejectExpiredAutoRejectsLateSellers(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 1000, qty: 1}}, []line{{price: 2000, qty: 1}})
	late := p.order.SubOrders[0]
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.DB.Model(&models.SellerSubOrder{}).Where("id = ?", late.ID).Update("accept_deadline", past).Error)

	count, err := f.svc.RejectExpired(context.Background(), time.Now().UTC(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got := f.SubOrder(t, late.ID)
	assert.Equal(t, enums.SubOrderStatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "acceptance window expired", *got.CancelReason)
	assert.Equal(t, enums.SubOrderStatusAwaitingAcceptance, f.SubOrder(t, p.order.SubOrders[1].ID).Status)

	count, err = f.svc.RejectExpired(context.Background(), time.Now().UTC(), 50)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListingIsScopedToCaller(t *testing.T) {
	f := newFixture(t)
	p := f.place(t, []line{{price: 1000, qty: 1}})
	f.place(t, []line{{price: 500, qty: 1}})
	f.buyer = uuid.New()
	f.place(t, []line{{price: 700, qty: 1}})

	page, err := f.svc.ListOrders(context.Background(), &outbox.ActorRef{UserID: &p.order.BuyerUserID, Role: enums.ActorRoleBuyer}, nil, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = f.svc.ListOrders(context.Background(), testkit.Actor(enums.ActorRoleBuyer, nil), nil, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	storeID := p.order.SubOrders[0].StoreID
	subs, err := f.svc.ListSubOrders(context.Background(), f.seller(storeID), SubOrderFilter{StoreID: ptr(uuid.New())}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, subs.Items, 1)
	assert.Equal(t, storeID, subs.Items[0].StoreID)

	_, err = f.svc.ListSubOrders(context.Background(), testkit.Actor(enums.ActorRoleBuyer, nil), SubOrderFilter{}, pagination.Params{Limit: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.ListOrders(context.Background(), f.buyerActor(), nil, pagination.Params{Limit: 10, Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.GetOrder(context.Background(), testkit.Actor(enums.ActorRoleSeller, ptr(uuid.New())), p.order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	got, err := f.svc.GetOrder(context.Background(), f.seller(storeID), p.order.ID)
	require.NoError(t, err)
	assert.Equal(t, p.order.ID, got.ID)
}

func ptr[T any](v T) *T {
	return &v
}
