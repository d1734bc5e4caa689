package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/cart"
	"github.com/mercato/mercato-backend/internal/catalog"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
	"github.com/mercato/mercato-backend/pkg/types"
)

const numberAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type storeCatalog interface {
	catalog.Inventory
	GetStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type escrowOpener interface {
	CreatePending(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, currency string) (*models.EscrowTransaction, error)
}

type paymentStarter interface {
	ResolveProvider(preferred enums.PaymentProvider, currency string) (enums.PaymentProvider, error)
	CreatePending(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.PaymentTransaction, error)
	Authorize(ctx context.Context, orderID uuid.UUID, opts payments.AuthorizeOptions) (*models.PaymentTransaction, error)
}

// Input captures what the buyer submits at checkout.
type Input struct {
	BuyerUserID        uuid.UUID
	CartID             uuid.UUID
	Provider           enums.PaymentProvider
	Currency           string
	ShippingAddress    types.Address
	PaymentMethodToken string
	CustomerRef        string
	Actor              *outbox.ActorRef
}

// Service executes checkout orchestration.
type Service interface {
	Execute(ctx context.Context, input Input) (*models.Order, error)
}

type ServiceParams struct {
	Repo       Repository
	Carts      cart.Repository
	Tx         txRunner
	Catalog    storeCatalog
	States     orderstate.Service
	Escrow     escrowOpener
	Payments   paymentStarter
	Compliance compliance.Recorder
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	carts      cart.Repository
	tx         txRunner
	catalog    storeCatalog
	states     orderstate.Service
	escrow     escrowOpener
	payments   paymentStarter
	compliance compliance.Recorder
	outbox     outboxPublisher
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("checkout repository required")
	case params.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("catalog required")
	case params.States == nil:
		return nil, fmt.Errorf("orderstate service required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		carts:      params.Carts,
		tx:         params.Tx,
		catalog:    params.Catalog,
		states:     params.States,
		escrow:     params.Escrow,
		payments:   params.Payments,
		compliance: params.Compliance,
		outbox:     params.Outbox,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

// Execute converts a cart into an order with one sub-order per store, then
// asks the provider for an authorization. A declined card is reported through
// the returned order's status, not as an error.
func (s *service) Execute(ctx context.Context, input Input) (*models.Order, error) {
	if input.BuyerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	if input.CartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	actor := input.Actor
	if actor == nil {
		buyer := input.BuyerUserID
		actor = &outbox.ActorRef{UserID: &buyer, Role: enums.ActorRoleBuyer}
	}
	ctx = s.logg.WithField(ctx, "cart_id", input.CartID.String())

	var (
		orderID  uuid.UUID
		existing bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		id, reused, err := s.createOrder(ctx, tx, input, actor)
		orderID, existing = id, reused
		return err
	})
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrder(ctx, orderID.String())
	if existing {
		s.logg.Info(ctx, "cart already checked out")
		return s.load(ctx, orderID)
	}

	if _, err := s.payments.Authorize(ctx, orderID, payments.AuthorizeOptions{
		PaymentMethodToken: input.PaymentMethodToken,
		CustomerRef:        input.CustomerRef,
		Actor:              actor,
	}); err != nil {
		// The order stays pending_payment; reconciliation settles it.
		s.logg.Error(ctx, "authorization after checkout failed", err)
	}
	return s.load(ctx, orderID)
}

func (s *service) createOrder(ctx context.Context, tx *gorm.DB, input Input, actor *outbox.ActorRef) (uuid.UUID, bool, error) {
	repo := s.repo.WithTx(tx)
	carts := s.carts.WithTx(tx)

	record, err := carts.LockByID(ctx, input.CartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if record.UserID == nil || *record.UserID != input.BuyerUserID {
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if !record.Status.Editable() {
		prior, err := repo.FindOrderIDByCart(ctx, record.ID)
		if err != nil {
			return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prior order")
		}
		if prior != nil {
			return *prior, true, nil
		}
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeConflict, "cart already processed")
	}
	if len(record.Items) == 0 {
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	currencies := cart.Currencies(record.Items)
	if len(currencies) > 1 {
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeValidation, "cart mixes currencies").
			WithDetails(map[string]any{"currencies": currencies})
	}
	currency := currencies[0]
	if input.Currency != "" && input.Currency != currency {
		return uuid.Nil, false, pkgerrors.Newf(pkgerrors.CodeValidation, "cart is priced in %s, not %s", currency, input.Currency)
	}
	provider, err := s.payments.ResolveProvider(input.Provider, currency)
	if err != nil {
		return uuid.Nil, false, err
	}

	groups := cart.GroupByStore(record.Items)
	for _, group := range groups {
		store, err := s.catalog.GetStore(ctx, group.StoreID)
		if err != nil {
			return uuid.Nil, false, err
		}
		if !store.Active {
			return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeValidation, "store is not accepting orders").
				WithDetails(map[string]any{"store_id": store.ID})
		}
	}

	requests := make([]catalog.ReservationRequest, 0, len(record.Items))
	for _, item := range record.Items {
		requests = append(requests, catalog.ReservationRequest{ProductID: item.ProductID, Qty: item.Quantity})
	}
	if _, err := s.catalog.Reserve(ctx, tx, requests); err != nil {
		return uuid.Nil, false, err
	}

	now := s.now().UTC()
	number, err := s.uniqueNumber(ctx, repo, now)
	if err != nil {
		return uuid.Nil, false, err
	}
	address := input.ShippingAddress
	cartID := record.ID
	order := &models.Order{
		Number:          number,
		BuyerUserID:     input.BuyerUserID,
		CartID:          &cartID,
		Currency:        currency,
		Status:          enums.OrderStatusPendingPayment,
		PaymentProvider: provider,
		ShippingAddress: &address,
		PlacedAt:        now,
	}
	for _, group := range groups {
		order.SubtotalCents += group.SubtotalCents
	}
	order.TotalCents = order.SubtotalCents
	if err := repo.CreateOrder(ctx, order); err != nil {
		return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	subOrderIDs := make([]uuid.UUID, 0, len(groups))
	for i, group := range groups {
		sub := &models.SellerSubOrder{
			OrderID:       order.ID,
			StoreID:       group.StoreID,
			Number:        SubOrderNumber(number, i+1),
			Status:        enums.SubOrderStatusPendingPayment,
			SubtotalCents: group.SubtotalCents,
			TotalCents:    group.SubtotalCents,
		}
		if err := repo.CreateSubOrder(ctx, sub); err != nil {
			return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sub-order")
		}
		items := make([]models.OrderItem, 0, len(group.Items))
		for _, line := range group.Items {
			item := models.OrderItem{
				OrderID:        order.ID,
				SubOrderID:     sub.ID,
				ProductID:      line.ProductID,
				CategoryID:     line.CategoryID,
				Title:          line.Title,
				UnitPriceCents: line.UnitPriceCents,
				Quantity:       line.Quantity,
				LineTotalCents: line.LineTotalCents(),
			}
			item.DeriveStatus()
			items = append(items, item)
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		if _, err := s.escrow.CreatePending(ctx, tx, sub, currency); err != nil {
			return uuid.Nil, false, err
		}
		subOrderIDs = append(subOrderIDs, sub.ID)
	}

	if _, err := s.payments.CreatePending(ctx, tx, order); err != nil {
		return uuid.Nil, false, err
	}
	if err := carts.MarkConverted(ctx, record.ID, now); err != nil {
		return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			BuyerUserID: order.BuyerUserID,
			SubOrderIDs: subOrderIDs,
			TotalCents:  order.TotalCents,
			Currency:    order.Currency,
		},
	}); err != nil {
		return uuid.Nil, false, err
	}
	if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "order.created",
		EntityType: enums.ComplianceEntityOrder,
		EntityID:   order.ID,
		After: map[string]any{
			"number":      order.Number,
			"total_cents": order.TotalCents,
			"currency":    order.Currency,
			"provider":    order.PaymentProvider,
			"sub_orders":  len(subOrderIDs),
		},
	}); err != nil {
		return uuid.Nil, false, err
	}
	return order.ID, false, nil
}

func (s *service) uniqueNumber(ctx context.Context, repo Repository, now time.Time) (string, error) {
	for i := 0; i < numberAttempts; i++ {
		number, err := OrderNumber(now)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		taken, err := repo.NumberTaken(ctx, number)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order number")
		}
		if !taken {
			return number, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeInternal, "could not allocate an order number")
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.states.Repo(nil).FindOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
