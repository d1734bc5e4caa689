package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/payloads"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type refundIssuer interface {
	payments.Refunder
	ListRefunds(ctx context.Context, subOrderID uuid.UUID) ([]models.Refund, error)
}

type ItemQuantity = payloads.ItemQuantity

// RequestInput opens a return. Reason is required.
type RequestInput struct {
	SubOrderID uuid.UUID
	Items      []ItemQuantity
	Reason     string
}

type Service interface {
	RequestReturn(ctx context.Context, actor *outbox.ActorRef, input RequestInput) (*models.ReturnRequest, error)
	CancelReturn(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error)
	InitiateReturn(ctx context.Context, actor *outbox.ActorRef, input RequestInput) (*models.ReturnRequest, error)
	Approve(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error)
	Reject(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID, reason string) (*models.ReturnRequest, error)
	MarkReceived(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error)
	Refund(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error)
	Get(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error)
	List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.ReturnRequest], error)
}

type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	States       orderstate.Service
	Payments     refundIssuer
	Compliance   compliance.Recorder
	Outbox       outboxPublisher
	Logger       *logger.Logger
	ReturnWindow time.Duration
}

type service struct {
	repo         Repository
	tx           txRunner
	states       orderstate.Service
	payments     refundIssuer
	compliance   compliance.Recorder
	outbox       outboxPublisher
	logg         *logger.Logger
	returnWindow time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("returns repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.States == nil:
		return nil, fmt.Errorf("orderstate service required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	case params.Compliance == nil:
		return nil, fmt.Errorf("compliance recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.ReturnWindow <= 0:
		return nil, fmt.Errorf("return window must be positive")
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		states:       params.States,
		payments:     params.Payments,
		compliance:   params.Compliance,
		outbox:       params.Outbox,
		logg:         params.Logger,
		returnWindow: params.ReturnWindow,
		now:          time.Now,
	}, nil
}

// RequestReturn opens a buyer return on shipped items.
func (s *service) RequestReturn(ctx context.Context, actor *outbox.ActorRef, input RequestInput) (*models.ReturnRequest, error) {
	return s.open(ctx, actor, input, enums.ReturnInitiatorBuyer)
}

// InitiateReturn opens a seller refund-with-return. It starts approved.
func (s *service) InitiateReturn(ctx context.Context, actor *outbox.ActorRef, input RequestInput) (*models.ReturnRequest, error) {
	return s.open(ctx, actor, input, enums.ReturnInitiatorSeller)
}

func (s *service) open(ctx context.Context, actor *outbox.ActorRef, input RequestInput, initiator enums.ReturnInitiator) (*models.ReturnRequest, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return reason required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return items required")
	}

	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		states := s.states.Repo(tx)
		sub, err := states.LockSubOrder(ctx, input.SubOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		order, err := states.FindOrder(ctx, sub.OrderID)
		if err != nil {
			return mapNotFound(err, "order")
		}
		switch initiator {
		case enums.ReturnInitiatorBuyer:
			if !isBuyer(actor, order) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
			}
		default:
			if !isPrivileged(actor) && !isSeller(actor, sub.StoreID) {
				return pkgerrors.New(pkgerrors.CodeForbidden, "sub-order belongs to another store")
			}
		}
		if err := s.checkReturnable(sub); err != nil {
			return err
		}

		reserved, err := s.repo.WithTx(tx).ReservedQty(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open returns")
		}
		items, total, err := buildItems(sub.Items, input.Items, reserved)
		if err != nil {
			return err
		}
		if total > sub.Escrow.RemainingCents() {
			return pkgerrors.New(pkgerrors.CodeValidation, "return value exceeds the escrow balance").
				WithDetails(map[string]any{"remaining_cents": sub.Escrow.RemainingCents(), "requested_cents": total})
		}

		now := s.now().UTC()
		request = &models.ReturnRequest{
			SubOrderID:  sub.ID,
			OrderID:     sub.OrderID,
			StoreID:     sub.StoreID,
			BuyerUserID: order.BuyerUserID,
			Initiator:   initiator,
			Status:      enums.ReturnStatusRequested,
			Reason:      input.Reason,
			RefundCents: total,
			Items:       items,
			RequestedAt: now,
		}
		if initiator == enums.ReturnInitiatorSeller {
			request.Status = enums.ReturnStatusApproved
			request.ApprovedAt = &now
		}
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return")
		}
		return s.record(ctx, tx, request, "", actor, "return.opened", input.Reason)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSubOrder(ctx, input.SubOrderID.String()), "return opened")
	return request, nil
}

// checkReturnable applies the delivery finality rule to a locked sub-order.
func (s *service) checkReturnable(sub *models.SellerSubOrder) error {
	switch sub.Status {
	case enums.SubOrderStatusPartiallyShipped, enums.SubOrderStatusShipped, enums.SubOrderStatusDelivered:
	default:
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "sub-order is %s and cannot be returned", sub.Status)
	}
	if sub.Escrow == nil || sub.Escrow.Status == enums.EscrowStatusReleased {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "a return cannot be requested after delivery is final")
	}
	if !sub.Escrow.Status.IsFunded() {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "escrow is %s and holds no funds", sub.Escrow.Status)
	}
	if sub.DeliveredAt != nil && !s.now().UTC().Before(sub.DeliveredAt.Add(s.returnWindow)) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "return window has closed").
			WithDetails(map[string]any{"delivered_at": sub.DeliveredAt, "window_hours": s.returnWindow.Hours()})
	}
	return nil
}

func (s *service) CancelReturn(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error) {
	return s.transition(ctx, actor, returnID, func(request *models.ReturnRequest) error {
		if !isPrivileged(actor) && !(actor != nil && actor.UserID != nil && *actor.UserID == request.BuyerUserID) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
		}
		return expect(request, enums.ReturnStatusRequested)
	}, enums.ReturnStatusCancelled, "")
}

func (s *service) Approve(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error) {
	return s.transition(ctx, actor, returnID, func(request *models.ReturnRequest) error {
		if err := canManage(actor, request); err != nil {
			return err
		}
		return expect(request, enums.ReturnStatusRequested)
	}, enums.ReturnStatusApproved, "")
}

func (s *service) Reject(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID, reason string) (*models.ReturnRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}
	return s.transition(ctx, actor, returnID, func(request *models.ReturnRequest) error {
		if err := canManage(actor, request); err != nil {
			return err
		}
		return expect(request, enums.ReturnStatusRequested)
	}, enums.ReturnStatusRejected, reason)
}

func (s *service) MarkReceived(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error) {
	return s.transition(ctx, actor, returnID, func(request *models.ReturnRequest) error {
		if err := canManage(actor, request); err != nil {
			return err
		}
		return expect(request, enums.ReturnStatusApproved)
	}, enums.ReturnStatusReceived, "")
}

func (s *service) transition(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID, guard func(*models.ReturnRequest) error, to enums.ReturnStatus, reason string) (*models.ReturnRequest, error) {
	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.Lock(ctx, returnID)
		if err != nil {
			return mapNotFound(err, "return")
		}
		if err := guard(request); err != nil {
			return err
		}
		from := request.Status
		now := s.now().UTC()
		updates := map[string]any{"status": to}
		switch to {
		case enums.ReturnStatusApproved:
			updates["approved_at"] = now
			request.ApprovedAt = &now
		case enums.ReturnStatusReceived:
			updates["received_at"] = now
			request.ReceivedAt = &now
		case enums.ReturnStatusRejected, enums.ReturnStatusCancelled:
			updates["closed_at"] = now
			request.ClosedAt = &now
			if reason != "" {
				updates["rejection_reason"] = reason
				request.RejectionReason = &reason
			}
		}
		if err := repo.Update(ctx, request.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return")
		}
		request.Status = to
		return s.record(ctx, tx, request, from, actor, "return."+string(to), reason)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Refund pays back the returned items through payments, then marks the items
// returned. A refund already applied for this return is reused; one the
// provider never settled is settled first.
func (s *service) Refund(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.Find(ctx, returnID)
	if err != nil {
		return nil, mapNotFound(err, "return")
	}
	if err := canManage(actor, request); err != nil {
		return nil, err
	}
	if err := refundable(request); err != nil {
		return nil, err
	}

	refund, err := s.existingRefund(ctx, request)
	if err != nil {
		return nil, err
	}
	switch {
	case refund == nil:
		refund, err = s.payments.Refund(ctx, payments.RefundInput{
			SubOrderID:  request.SubOrderID,
			AmountCents: request.RefundCents,
			Reason:      "return: " + request.Reason,
			ReturnID:    &request.ID,
			Actor:       actor,
		})
	case refund.AppliedAt == nil:
		refund, err = s.payments.SettleRefund(ctx, refund.ID, actor)
	}
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.Lock(ctx, returnID)
		if err != nil {
			return mapNotFound(err, "return")
		}
		if locked.Status == enums.ReturnStatusRefunded {
			request = locked
			return nil
		}
		if err := refundable(locked); err != nil {
			return err
		}
		states := s.states.Repo(tx)
		sub, err := states.LockSubOrder(ctx, locked.SubOrderID)
		if err != nil {
			return mapNotFound(err, "sub-order")
		}
		for _, line := range locked.Items {
			for i := range sub.Items {
				if sub.Items[i].ID == line.OrderItemID {
					sub.Items[i].ReturnedQty += line.Quantity
					sub.Items[i].DeriveStatus()
				}
			}
		}
		if err := states.SaveItems(ctx, sub.Items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update returned quantities")
		}

		from := locked.Status
		now := s.now().UTC()
		if err := repo.Update(ctx, locked.ID, map[string]any{
			"status":      enums.ReturnStatusRefunded,
			"refund_id":   refund.ID,
			"refunded_at": now,
			"closed_at":   now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return")
		}
		locked.Status = enums.ReturnStatusRefunded
		locked.RefundID = &refund.ID
		locked.RefundedAt = &now
		locked.ClosedAt = &now
		request = locked
		return s.record(ctx, tx, locked, from, actor, "return.refunded", "")
	})
	if err != nil {
		s.logg.Error(s.logg.WithSubOrder(ctx, request.SubOrderID.String()), "return refund issued but not recorded", err)
		return nil, err
	}
	return request, nil
}

func (s *service) existingRefund(ctx context.Context, request *models.ReturnRequest) (*models.Refund, error) {
	refunds, err := s.payments.ListRefunds(ctx, request.SubOrderID)
	if err != nil {
		return nil, err
	}
	for i := range refunds {
		r := refunds[i]
		if r.ReturnID != nil && *r.ReturnID == request.ID && r.Status != enums.RefundStatusFailed {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *service) Get(ctx context.Context, actor *outbox.ActorRef, returnID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.Find(ctx, returnID)
	if err != nil {
		return nil, mapNotFound(err, "return")
	}
	if isPrivileged(actor) || isSeller(actor, request.StoreID) {
		return request, nil
	}
	if actor != nil && actor.UserID != nil && *actor.UserID == request.BuyerUserID {
		return request, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
}

// List pins buyers to their own returns and sellers to their store.
func (s *service) List(ctx context.Context, actor *outbox.ActorRef, filter Filter, params pagination.Params) (pagination.Page[models.ReturnRequest], error) {
	var empty pagination.Page[models.ReturnRequest]
	switch {
	case isPrivileged(actor):
	case actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil:
		filter.StoreID = actor.StoreID
	case actor != nil && actor.UserID != nil:
		filter.BuyerUserID = actor.UserID
	default:
		return empty, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list returns")
	}
	return pagination.Build(rows, params.Limit, func(r models.ReturnRequest) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	}), nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, from enums.ReturnStatus, actor *outbox.ActorRef, action, reason string) error {
	if actor == nil {
		actor = outbox.SystemActor()
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReturnStatusChanged,
		AggregateType: enums.AggregateReturn,
		AggregateID:   request.ID,
		Actor:         actor,
		Data: payloads.ReturnStatusChangedEvent{
			ReturnID:   request.ID,
			SubOrderID: request.SubOrderID,
			StoreID:    request.StoreID,
			Initiator:  request.Initiator,
			From:       from,
			To:         request.Status,
		},
	}); err != nil {
		return err
	}
	before := map[string]any{}
	if from != "" {
		before["status"] = from
	}
	_, err := s.compliance.Record(ctx, tx, compliance.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: enums.ComplianceEntityReturn,
		EntityID:   request.ID,
		Before:     before,
		After:      map[string]any{"status": request.Status, "refund_cents": request.RefundCents},
		Reason:     reason,
	})
	return err
}

// buildItems validates requested lines against returnable quantity net of
// other open returns.
func buildItems(items []models.OrderItem, lines []ItemQuantity, reserved map[uuid.UUID]int) ([]models.ReturnItem, int64, error) {
	index := make(map[uuid.UUID]models.OrderItem, len(items))
	for _, item := range items {
		index[item.ID] = item
	}
	seen := make(map[uuid.UUID]bool, len(lines))
	out := make([]models.ReturnItem, 0, len(lines))
	var total int64
	for _, line := range lines {
		item, ok := index[line.OrderItemID]
		if !ok {
			return nil, 0, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s is not part of this sub-order", line.OrderItemID)
		}
		if seen[line.OrderItemID] {
			return nil, 0, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s listed twice", line.OrderItemID)
		}
		seen[line.OrderItemID] = true
		if line.Quantity <= 0 {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		available := item.ReturnableQty() - reserved[item.ID]
		if line.Quantity > available {
			return nil, 0, pkgerrors.Newf(pkgerrors.CodeValidation, "item %s has only %d returnable units", item.ID, max(available, 0)).
				WithDetails(map[string]any{"order_item_id": item.ID, "returnable": max(available, 0)})
		}
		out = append(out, models.ReturnItem{
			OrderItemID:    item.ID,
			Quantity:       line.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
		total += item.UnitPriceCents * int64(line.Quantity)
	}
	return out, total, nil
}

// refundable: received returns, or seller-initiated ones once approved.
func refundable(request *models.ReturnRequest) error {
	switch {
	case request.Status == enums.ReturnStatusReceived:
		return nil
	case request.Status == enums.ReturnStatusApproved && request.Initiator == enums.ReturnInitiatorSeller:
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "return is %s and cannot be refunded", request.Status)
}

func expect(request *models.ReturnRequest, status enums.ReturnStatus) error {
	if request.Status != status {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "return is %s, expected %s", request.Status, status)
	}
	return nil
}

func isPrivileged(actor *outbox.ActorRef) bool {
	return actor != nil && (actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem)
}

func isSeller(actor *outbox.ActorRef, storeID uuid.UUID) bool {
	return actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil && *actor.StoreID == storeID
}

func isBuyer(actor *outbox.ActorRef, order *models.Order) bool {
	return actor != nil && actor.UserID != nil && *actor.UserID == order.BuyerUserID
}

func canManage(actor *outbox.ActorRef, request *models.ReturnRequest) error {
	if isPrivileged(actor) || isSeller(actor, request.StoreID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "return belongs to another store")
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
