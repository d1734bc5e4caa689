package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// CancelOrder cancels every open sub-order before anything ships. Captured
// money is refunded per sub-order; an uncaptured authorization is voided.
func (s *service) CancelOrder(ctx context.Context, actor *outbox.ActorRef, orderID uuid.UUID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by buyer"
	}

	var refunds []uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		states := s.states.Repo(tx)
		order, err := states.LockOrder(ctx, orderID)
		if err != nil {
			return mapNotFound(err, "order")
		}
		if !isPrivileged(actor) && !isBuyer(actor, order) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		switch order.Status {
		case enums.OrderStatusCancelled, enums.OrderStatusPaymentFailed:
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order is already %s", order.Status)
		}
		for _, sub := range order.SubOrders {
			switch sub.Status {
			case enums.SubOrderStatusPartiallyShipped, enums.SubOrderStatusShipped, enums.SubOrderStatusDelivered,
				enums.SubOrderStatusCompleted, enums.SubOrderStatusRefunded:
				return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order %s is %s; the order can no longer be cancelled", sub.Number, sub.Status)
			}
		}

		for i := range order.SubOrders {
			sub, err := states.LockSubOrder(ctx, order.SubOrders[i].ID)
			if err != nil {
				return mapNotFound(err, "sub-order")
			}
			if sub.Status == enums.SubOrderStatusCancelled {
				continue
			}
			if err := s.cancelWholeSubOrder(ctx, tx, sub, reason, actor); err != nil {
				return err
			}
			if sub.Escrow != nil && sub.Escrow.Status.IsFunded() {
				if remaining := sub.Escrow.RemainingCents(); remaining > 0 {
					refund, err := s.payments.PrepareRefund(ctx, tx, payments.RefundInput{
						SubOrderID:  sub.ID,
						AmountCents: remaining,
						Reason:      "order cancelled: " + reason,
						Actor:       actor,
					})
					if err != nil {
						return err
					}
					refunds = append(refunds, refund.ID)
				}
			}
		}
		_, err = s.states.SyncOrderStatus(ctx, tx, orderID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrder(ctx, orderID.String())
	if len(refunds) == 0 {
		s.captureIfReady(ctx, orderID, actor)
	}
	for _, id := range refunds {
		s.settleRefund(ctx, id, actor)
	}
	s.logg.Info(ctx, "order cancelled")
	return s.states.Repo(nil).FindOrder(ctx, orderID)
}
