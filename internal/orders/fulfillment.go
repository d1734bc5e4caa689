package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
)

type ItemQuantity = payloads.ItemQuantity

// ShipInput describes one parcel. An empty Items list ships every open unit.
type ShipInput struct {
	Items          []ItemQuantity
	Carrier        string
	TrackingNumber string
}

func (s *service) Ship(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, input ShipInput) (*models.Shipment, error) {
	input.Carrier = strings.TrimSpace(input.Carrier)
	input.TrackingNumber = strings.TrimSpace(input.TrackingNumber)
	if input.Carrier == "" || input.TrackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number required")
	}

	var shipment *models.Shipment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		states := s.states.Repo(tx)
		sub, err := states.LockSubOrder(ctx, subOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		if err := canManageSubOrder(actor, sub); err != nil {
			return err
		}
		if sub.Status != enums.SubOrderStatusPreparing && sub.Status != enums.SubOrderStatusPartiallyShipped {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order is %s and cannot ship", sub.Status)
		}
		if sub.Escrow == nil || !sub.Escrow.Status.IsFunded() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment not captured")
		}

		lines := input.Items
		if len(lines) == 0 {
			lines = openLines(sub.Items)
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "nothing left to ship")
		}
		byID, err := resolveLines(sub.Items, lines, func(item models.OrderItem) int { return item.OpenQty() })
		if err != nil {
			return err
		}

		now := s.now().UTC()
		shipment = &models.Shipment{
			SubOrderID:     sub.ID,
			Carrier:        input.Carrier,
			TrackingNumber: input.TrackingNumber,
			Status:         enums.ShipmentStatusInTransit,
			ShippedAt:      now,
		}
		for _, line := range lines {
			shipment.Items = append(shipment.Items, models.ShipmentItem{OrderItemID: line.OrderItemID, Quantity: line.Quantity})
			item := byID[line.OrderItemID]
			item.ShippedQty += line.Quantity
			item.DeriveStatus()
		}
		if err := s.repo.WithTx(tx).CreateShipment(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}
		if err := states.SaveItems(ctx, sub.Items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipped quantities")
		}

		next := enums.SubOrderStatusShipped
		if len(openLines(sub.Items)) > 0 {
			next = enums.SubOrderStatusPartiallyShipped
		}
		if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{To: next, Actor: actor}); err != nil {
			return err
		}
		if _, err := s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor); err != nil {
			return err
		}
		return s.emitShipment(ctx, tx, enums.EventShipmentCreated, shipment, sub, actor)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSubOrder(ctx, subOrderID.String()), "shipment created")
	return shipment, nil
}

// MarkDelivered confirms a shipment. Repeat confirmations are no-ops.
func (s *service) MarkDelivered(ctx context.Context, actor *outbox.ActorRef, shipmentID uuid.UUID) (*models.Shipment, error) {
	var shipment *models.Shipment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		states := s.states.Repo(tx)
		var err error
		shipment, err = repo.LockShipment(ctx, shipmentID)
		if err != nil {
			return mapNotFound(err, "shipment")
		}
		sub, err := states.LockSubOrder(ctx, shipment.SubOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		if !isPrivileged(actor) && !isSeller(actor, sub) {
			order, err := states.FindOrder(ctx, sub.OrderID)
			if err != nil {
				return mapNotFound(err, "order")
			}
			if !isBuyer(actor, order) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
		}
		if shipment.Status == enums.ShipmentStatusDelivered {
			return nil
		}

		now := s.now().UTC()
		if err := repo.UpdateShipment(ctx, shipment.ID, map[string]any{
			"status":       enums.ShipmentStatusDelivered,
			"delivered_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}
		shipment.Status = enums.ShipmentStatusDelivered
		shipment.DeliveredAt = &now

		for _, line := range shipment.Items {
			for i := range sub.Items {
				if sub.Items[i].ID == line.OrderItemID {
					sub.Items[i].DeliveredQty += line.Quantity
					sub.Items[i].DeriveStatus()
				}
			}
		}
		if err := states.SaveItems(ctx, sub.Items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivered quantities")
		}
		for i := range sub.Shipments {
			if sub.Shipments[i].ID == shipment.ID {
				sub.Shipments[i].Status = enums.ShipmentStatusDelivered
			}
		}
		if err := s.deliverIfComplete(ctx, tx, sub, actor); err != nil {
			return err
		}
		return s.emitShipment(ctx, tx, enums.EventShipmentDelivered, shipment, sub, actor)
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// deliverIfComplete moves a fully shipped sub-order to delivered once every
// parcel has arrived.
func (s *service) deliverIfComplete(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, actor *outbox.ActorRef) error {
	if sub.Status != enums.SubOrderStatusShipped || len(sub.Shipments) == 0 {
		return nil
	}
	for _, shipment := range sub.Shipments {
		if shipment.Status != enums.ShipmentStatusDelivered {
			return nil
		}
	}
	if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
		To:    enums.SubOrderStatusDelivered,
		Actor: actor,
	}); err != nil {
		return err
	}
	_, err := s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor)
	return err
}

// CancelItems cancels unshipped quantities. Captured value is committed as a
// pending refund with the cancellation and settled once it commits; a refund
// the provider does not accept yet is left for the retry job.
func (s *service) CancelItems(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID, lines []ItemQuantity, reason string) (*models.SellerSubOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items required")
	}

	var (
		orderID  uuid.UUID
		refundID *uuid.UUID
		closed   bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.states.Repo(tx).LockSubOrder(ctx, subOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		if err := canManageSubOrder(actor, sub); err != nil {
			return err
		}
		switch sub.Status {
		case enums.SubOrderStatusAwaitingAcceptance, enums.SubOrderStatusPreparing, enums.SubOrderStatusPartiallyShipped:
		default:
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order is %s and items cannot be cancelled", sub.Status)
		}
		orderID = sub.OrderID
		captured := sub.Escrow != nil && sub.Escrow.Status.IsFunded()

		amount, err := s.cancelLines(ctx, tx, sub, lines, reason, actor)
		if err != nil {
			return err
		}
		if captured && amount > 0 {
			refund, err := s.payments.PrepareRefund(ctx, tx, payments.RefundInput{
				SubOrderID:  sub.ID,
				AmountCents: amount,
				Reason:      "items cancelled: " + reason,
				Actor:       actor,
			})
			if err != nil {
				return err
			}
			refundID = &refund.ID
		}

		switch {
		case allItemsCancelled(sub.Items):
			closed = true
			if !captured {
				if err := s.escrow.Cancel(ctx, tx, sub.ID); err != nil {
					return err
				}
			}
			if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
				To:     enums.SubOrderStatusCancelled,
				Actor:  actor,
				Reason: reason,
			}); err != nil {
				return err
			}
		case sub.Status == enums.SubOrderStatusPartiallyShipped && len(openLines(sub.Items)) == 0:
			if err := s.states.TransitionSubOrder(ctx, tx, sub, orderstate.Transition{
				To:    enums.SubOrderStatusShipped,
				Actor: actor,
			}); err != nil {
				return err
			}
			if err := s.deliverIfComplete(ctx, tx, sub, actor); err != nil {
				return err
			}
		}
		_, err = s.states.SyncOrderStatus(ctx, tx, sub.OrderID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case refundID != nil:
		s.settleRefund(ctx, *refundID, actor)
	case closed:
		s.captureIfReady(ctx, orderID, actor)
	}
	return s.reloadSubOrder(ctx, subOrderID)
}

// cancelLines applies a cancellation to the locked sub-order and returns its
// value in cents.
func (s *service) cancelLines(ctx context.Context, tx *gorm.DB, sub *models.SellerSubOrder, lines []ItemQuantity, reason string, actor *outbox.ActorRef) (int64, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	byID, err := resolveLines(sub.Items, lines, func(item models.OrderItem) int { return item.OpenQty() })
	if err != nil {
		return 0, err
	}
	var amount int64
	for _, line := range lines {
		item := byID[line.OrderItemID]
		if err := s.inventory.Release(ctx, tx, item.ProductID, line.Quantity); err != nil {
			return 0, err
		}
		item.CancelledQty += line.Quantity
		item.DeriveStatus()
		amount += item.UnitPriceCents * int64(line.Quantity)
	}
	states := s.states.Repo(tx)
	if err := states.SaveItems(ctx, sub.Items); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cancelled quantities")
	}
	before := sub.CancelledCents
	sub.CancelledCents += amount
	if err := states.UpdateSubOrder(ctx, sub.ID, map[string]any{"cancelled_cents": sub.CancelledCents}); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cancelled total")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventItemsCancelled,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor,
		Data: payloads.ItemsCancelledEvent{
			SubOrderID:  sub.ID,
			OrderID:     sub.OrderID,
			StoreID:     sub.StoreID,
			Items:       lines,
			AmountCents: amount,
			Reason:      reason,
		},
	}); err != nil {
		return 0, err
	}
	_, err = s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     "sub_order.items_cancelled",
		EntityType: enums.ComplianceEntitySubOrder,
		EntityID:   sub.ID,
		Before:     map[string]any{"cancelled_cents": before},
		After:      map[string]any{"cancelled_cents": sub.CancelledCents, "items": lines},
		Reason:     reason,
	})
	return amount, err
}

func (s *service) emitShipment(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, shipment *models.Shipment, sub *models.SellerSubOrder, actor *outbox.ActorRef) error {
	items := make([]ItemQuantity, 0, len(shipment.Items))
	for _, item := range shipment.Items {
		items = append(items, ItemQuantity{OrderItemID: item.OrderItemID, Quantity: item.Quantity})
	}
	occurred := shipment.ShippedAt
	if shipment.DeliveredAt != nil {
		occurred = *shipment.DeliveredAt
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor,
		Data: payloads.ShipmentEvent{
			ShipmentID:     shipment.ID,
			SubOrderID:     sub.ID,
			OrderID:        sub.OrderID,
			StoreID:        sub.StoreID,
			Carrier:        shipment.Carrier,
			TrackingNumber: shipment.TrackingNumber,
			Items:          items,
			OccurredAt:     occurred,
		},
	})
}

// resolveLines checks every line against the sub-order's items and returns
// pointers into items keyed by id. Duplicate ids are rejected.
func resolveLines(items []models.OrderItem, lines []ItemQuantity, available func(models.OrderItem) int) (map[uuid.UUID]*models.OrderItem, error) {
	index := make(map[uuid.UUID]*models.OrderItem, len(items))
	for i := range items {
		index[items[i].ID] = &items[i]
	}
	out := make(map[uuid.UUID]*models.OrderItem, len(lines))
	for _, line := range lines {
		item, ok := index[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s is not part of this sub-order", line.OrderItemID)
		}
		if _, dup := out[line.OrderItemID]; dup {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s listed twice", line.OrderItemID)
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if line.Quantity > available(*item) {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s has only %d units available", line.OrderItemID, available(*item)).
				WithDetails(map[string]any{"order_item_id": line.OrderItemID, "available": available(*item)})
		}
		out[line.OrderItemID] = item
	}
	return out, nil
}

func openLines(items []models.OrderItem) []ItemQuantity {
	var lines []ItemQuantity
	for _, item := range items {
		if open := item.OpenQty(); open > 0 {
			lines = append(lines, ItemQuantity{OrderItemID: item.ID, Quantity: open})
		}
	}
	return lines
}

func allItemsCancelled(items []models.OrderItem) bool {
	for _, item := range items {
		if item.CancelledQty < item.Quantity {
			return false
		}
	}
	return len(items) > 0
}
