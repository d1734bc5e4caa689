package orderstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Transition describes why a sub-order is changing status.
type Transition struct {
	To     enums.SubOrderStatus
	Actor  *outbox.ActorRef
	Reason string
}

// Service applies sub-order transitions and keeps the parent order status in
// sync. Every method runs inside the caller's transaction.
type Service interface {
	Repo(tx *gorm.DB) Repository
	TransitionSubOrder(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, transition Transition) error
	SyncOrderStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (enums.OrderStatus, error)
}

type service struct {
	repo       Repository
	outbox     outboxPublisher
	compliance compliance.Recorder
	now        func() time.Time
}

func NewService(repo Repository, outbox outboxPublisher, recorder compliance.Recorder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orderstate repository required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("compliance recorder required")
	}
	return &service{repo: repo, outbox: outbox, compliance: recorder, now: time.Now}, nil
}

func (s *service) Repo(tx *gorm.DB) Repository {
	return s.repo.WithTx(tx)
}

func (s *service) TransitionSubOrder(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, transition Transition) error {
	if sub == nil {
		return fmt.Errorf("sub-order required")
	}
	from := sub.Status
	if from == transition.To {
		return nil
	}
	if !CanTransition(from, transition.To) {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order cannot move from %s to %s", from, transition.To).
			WithDetails(map[string]any{"sub_order_id": sub.ID, "from": from, "to": transition.To})
	}

	now := s.now().UTC()
	updates := map[string]any{"status": transition.To}
	switch transition.To {
	case enums.SubOrderStatusPreparing:
		sub.AcceptedAt = &now
		updates["accepted_at"] = now
	case enums.SubOrderStatusShipped:
		sub.ShippedAt = &now
		updates["shipped_at"] = now
	case enums.SubOrderStatusDelivered:
		sub.DeliveredAt = &now
		updates["delivered_at"] = now
	case enums.SubOrderStatusCompleted:
		sub.CompletedAt = &now
		updates["completed_at"] = now
	case enums.SubOrderStatusCancelled:
		sub.CancelledAt = &now
		updates["cancelled_at"] = now
		if reason := strings.TrimSpace(transition.Reason); reason != "" {
			sub.CancelReason = &reason
			updates["cancel_reason"] = reason
		}
	}
	if err := s.repo.WithTx(tx).UpdateSubOrder(ctx, sub.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub-order status")
	}
	sub.Status = transition.To

	actor := transition.Actor
	if actor == nil {
		actor = outbox.SystemActor()
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubOrderStatusChanged,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor,
		Data: payloads.SubOrderStatusChangedEvent{
			SubOrderID: sub.ID,
			OrderID:    sub.OrderID,
			StoreID:    sub.StoreID,
			From:       from,
			To:         transition.To,
			Reason:     transition.Reason,
		},
	}); err != nil {
		return err
	}
	_, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "sub_order." + string(transition.To),
		EntityType: enums.ComplianceEntitySubOrder,
		EntityID:   sub.ID,
		Before:     map[string]any{"status": from},
		After:      map[string]any{"status": transition.To},
		Reason:     transition.Reason,
	})
	return err
}

func (s *service) SyncOrderStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (enums.OrderStatus, error) {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	statuses := make([]enums.SubOrderStatus, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		statuses = append(statuses, sub.Status)
	}
	var paymentStatus enums.PaymentStatus
	if order.Payment != nil {
		paymentStatus = order.Payment.Status
	}
	next := DeriveOrderStatus(statuses, paymentStatus)
	if next == order.Status {
		return next, nil
	}

	now := s.now().UTC()
	updates := map[string]any{"status": next}
	switch next {
	case enums.OrderStatusCompleted:
		updates["completed_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	}
	if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	if actor == nil {
		actor = outbox.SystemActor()
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			From:    order.Status,
			To:      next,
		},
	}); err != nil {
		return "", err
	}
	if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "order." + string(next),
		EntityType: enums.ComplianceEntityOrder,
		EntityID:   order.ID,
		Before:     map[string]any{"status": order.Status},
		After:      map[string]any{"status": next},
	}); err != nil {
		return "", err
	}
	return next, nil
}
