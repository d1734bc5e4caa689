package orders

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
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type escrowCanceller interface {
	Cancel(ctx context.Context, tx *gorm.DB, subOrderID uuid.UUID) error
}

type paymentFlow interface {
	payments.Capturer
	payments.RefundPreparer
}

// Service covers buyer reads, seller decisions and fulfillment.
type Service interface {
	GetOrder(ctx context.Context, actor *outbox.ActorRef, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, actor *outbox.ActorRef, status *enums.OrderStatus, params pagination.Params) (pagination.Page[models.Order], error)
	CancelOrder(ctx context.Context, actor *outbox.ActorRef, orderID uuid.UUID, reason string) (*models.Order, error)

	ListSubOrders(ctx context.Context, actor *outbox.ActorRef, filter SubOrderFilter, params pagination.Params) (pagination.Page[models.SellerSubOrder], error)
	GetSubOrder(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.SellerSubOrder, error)
	Accept(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.SellerSubOrder, error)
	Reject(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, reason string) (*models.SellerSubOrder, error)
	RejectExpired(ctx context.Context, now time.Time, limit int) (int, error)

	Ship(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, input ShipInput) (*models.Shipment, error)
	CancelItems(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, lines []ItemQuantity, reason string) (*models.SellerSubOrder, error)
	MarkDelivered(ctx context.Context, actor *outbox.ActorRef, shipmentID uuid.UUID) (*models.Shipment, error)
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	States     orderstate.Service
	Escrow     escrowCanceller
	Payments   paymentFlow
	Inventory  catalog.Inventory
	Compliance compliance.Recorder
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	tx         txRunner
	states     orderstate.Service
	escrow     escrowCanceller
	payments   paymentFlow
	inventory  catalog.Inventory
	compliance compliance.Recorder
	outbox     outboxPublisher
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.States == nil:
		return nil, fmt.Errorf("orderstate service required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		states:     params.States,
		escrow:     params.Escrow,
		payments:   params.Payments,
		inventory:  params.Inventory,
		compliance: params.Compliance,
		outbox:     params.Outbox,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, actor *outbox.ActorRef, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.states.Repo(nil).FindOrder(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err, "order")
	}
	if err := canSeeOrder(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders pages the caller's orders newest first. Admins see every order.
func (s *service) ListOrders(ctx context.Context, actor *outbox.ActorRef, status *enums.OrderStatus, params pagination.Params) (pagination.Page[models.Order], error) {
	var empty pagination.Page[models.Order]
	filter := OrderFilter{Status: status}
	if !isPrivileged(actor) {
		if actor == nil || actor.UserID == nil {
			return empty, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
		}
		filter.BuyerUserID = actor.UserID
	}
	if status != nil && !status.IsValid() {
		return empty, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown order status %q", *status)
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListOrders(ctx, filter, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.Build(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

// ListSubOrders pages a store's sub-orders. Sellers are pinned to their own store.
func (s *service) ListSubOrders(ctx context.Context, actor *outbox.ActorRef, filter SubOrderFilter, params pagination.Params) (pagination.Page[models.SellerSubOrder], error) {
	var empty pagination.Page[models.SellerSubOrder]
	if !isPrivileged(actor) {
		if actor == nil || actor.Role != enums.ActorRoleSeller || actor.StoreID == nil {
			return empty, pkgerrors.New(pkgerrors.CodeForbidden, "seller store required")
		}
		filter.StoreID = actor.StoreID
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return empty, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown sub-order status %q", *filter.Status)
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListSubOrders(ctx, filter, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sub-orders")
	}
	return pagination.Build(rows, params.Limit, func(o models.SellerSubOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) GetSubOrder(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.SellerSubOrder, error) {
	sub, err := s.states.Repo(nil).FindSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, mapNotFound(err, "sub-order")
	}
	if isPrivileged(actor) || isSeller(actor, sub) {
		return sub, nil
	}
	order, err := s.states.Repo(nil).FindOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, mapNotFound(err, "order")
	}
	if !isBuyer(actor, order) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
	}
	return sub, nil
}

// Accept moves the sub-order into preparation and captures once every seller
// on the order has answered.
func (s *service) Accept(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.SellerSubOrder, error) {
	var orderID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.states.Repo(tx).LockSubOrder(ctx, subOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		if err := canManageSubOrder(actor, sub); err != nil {
			return err
		}
		orderID = sub.OrderID
		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
			To:    enums.SubOrderStatusPreparing,
			Actor: actor,
		}); err != nil {
			return err
		}
		_, err = s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.captureIfReady(ctx, orderID, actor)
	return s.reloadSubOrder(ctx, subOrderID)
}

// Reject cancels a sub-order the seller will not fulfill and releases its stock.
func (s *service) Reject(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, reason string) (*models.SellerSubOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}
	var orderID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.states.Repo(tx).LockSubOrder(ctx, subOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		if err := canManageSubOrder(actor, sub); err != nil {
			return err
		}
		if sub.Status != enums.SubOrderStatusAwaitingAcceptance {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order is %s and cannot be rejected", sub.Status)
		}
		orderID = sub.OrderID
		if err := s.cancelWholeSubOrder(ctx, tx, sub, reason, actor); err != nil {
			return err
		}
		_, err = s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.captureIfReady(ctx, orderID, actor)
	return s.reloadSubOrder(ctx, subOrderID)
}

// RejectExpired auto-rejects sub-orders whose acceptance deadline passed.
func (s *service) RejectExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := s.repo.ListExpiredAcceptance(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired sub-orders")
	}
	var (
		rejected int
		errs     error
	)
	for _, id := range ids {
		if _, err := s.Reject(ctx, outbox.SystemActor(), id, "acceptance window expired"); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("sub-order %s: %w", id, err))
			continue
		}
		rejected++
	}
	return rejected, errs
}

// cancelWholeSubOrder cancels every open quantity and the pending escrow.
func (s *service) cancelWholeSubOrder(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, reason string, actor *outbox.ActorRef) error {
	if _, err := s.cancelLines(ctx, tx, sub, openLines(sub.Items), reason, actor); err != nil {
		return err
	}
	if sub.Escrow != nil && sub.Escrow.Status == enums.EscrowStatusPending {
		if err := s.escrow.Cancel(ctx, tx, sub.ID); err != nil {
			return err
		}
	}
	return s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
		To:     enums.SubOrderStatusCancelled,
		Actor:  actor,
		Reason: reason,
	})
}

// captureIfReady is best effort: a provider failure leaves the payment
// authorized and the expiry job retries.
func (s *service) captureIfReady(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) {
	if _, err := s.payments.CaptureIfReady(ctx, orderID, actor); err != nil {
		s.logg.Error(s.logg.WithOrder(ctx, orderID.String()), "capture after seller decision failed", err)
	}
}

// settleRefund is best effort: the cancellation has committed with the refund
// pending, and the refund retry job settles whatever fails here.
func (s *service) settleRefund(ctx context.Context, refundID uuid.UUID, actor *outbox.ActorRef) {
	if _, err := s.payments.SettleRefund(ctx, refundID, actor); err != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"refund_id": refundID.String()})
		s.logg.Error(ctx, "refund for cancellation not settled", err)
	}
}

func (s *service) reloadSubOrder(ctx context.Context, id uuid.UUID) (*models.SellerSubOrder, error) {
	sub, err := s.states.Repo(nil).FindSubOrder(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "sub-order")
	}
	return sub, nil
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
