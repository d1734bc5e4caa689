// Package stack wires escrow, commissions and payments on top of testkit for
// tests of the modules that sit above payments.
package stack

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

type Stack struct {
	*testkit.Env
	Escrow      escrow.Service
	Commissions commissions.Service
	Payments    payments.Service
	Manual      *payments.ManualProvider
}

func New(t *testing.T) *Stack {
	t.Helper()
	env := testkit.New(t)
	cfg := testkit.Marketplace()

	commissionSvc, err := commissions.NewService(commissions.NewRepository(env.DB), env.Client, env.Ledger, env.Compliance, cfg.DefaultCommissionBps)
	if err != nil {
		t.Fatalf("commissions: %v", err)
	}
	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		Repo:         escrow.NewRepository(env.DB),
		Tx:           env.Client,
		States:       env.OrderState,
		Ledger:       env.Ledger,
		Compliance:   env.Compliance,
		Outbox:       env.Outbox,
		Logger:       env.Logger,
		ReturnWindow: cfg.ReturnWindow(),
	})
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	manual := payments.NewManualProvider()
	manager, err := payments.NewManager("manual", nil, manual)
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:             payments.NewRepository(env.DB),
		Tx:               env.Client,
		Providers:        manager,
		States:           env.OrderState,
		Escrow:           escrowSvc,
		Commissions:      commissionSvc,
		Inventory:        env.Catalog,
		Ledger:           env.Ledger,
		Compliance:       env.Compliance,
		Outbox:           env.Outbox,
		Logger:           env.Logger,
		AcceptanceWindow: cfg.AcceptanceWindow(),
	})
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	return &Stack{
		Env:         env,
		Escrow:      escrowSvc,
		Commissions: commissionSvc,
		Payments:    paymentSvc,
		Manual:      manual,
	}
}

// Captured seeds the order, authorizes it through the manual provider,
// accepts every sub-order and captures.
func (s *Stack) Captured(t *testing.T, seed dbtest.OrderSeed) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := dbtest.SeedOrder(t, s.DB, seed)
	if _, err := s.Payments.Authorize(ctx, order.ID, payments.AuthorizeOptions{PaymentMethodToken: "pm_card"}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	for _, sub := range order.SubOrders {
		s.Move(t, sub.ID, enums.SubOrderStatusPreparing)
	}
	payment, err := s.Payments.CaptureIfReady(ctx, order.ID, nil)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if payment.Status != enums.PaymentStatusCaptured {
		t.Fatalf("capture: payment is %s", payment.Status)
	}
	return dbtest.ReloadOrder(t, s.DB, order.ID)
}

// Deliver marks every item of the sub-order shipped and delivered and moves
// the sub-order to delivered.
func (s *Stack) Deliver(t *testing.T, subOrderID uuid.UUID) {
	t.Helper()
	err := s.DB.Model(&models.OrderItem{}).
		Where("sub_order_id = ?", subOrderID).
		Updates(map[string]any{
			"shipped_qty":   gorm.Expr("quantity - cancelled_qty"),
			"delivered_qty": gorm.Expr("quantity - cancelled_qty"),
			"status":        enums.OrderItemStatusDelivered,
		}).Error
	if err != nil {
		t.Fatalf("deliver items: %v", err)
	}
	s.Move(t, subOrderID, enums.SubOrderStatusShipped)
	s.Move(t, subOrderID, enums.SubOrderStatusDelivered)
}

// Move applies a sub-order transition and resyncs the order status.
func (s *Stack) Move(t *testing.T, subOrderID uuid.UUID, to enums.SubOrderStatus) {
	t.Helper()
	ctx := context.Background()
	sub, err := s.OrderState.Repo(s.DB).FindSubOrder(ctx, subOrderID)
	if err != nil {
		t.Fatalf("load sub-order: %v", err)
	}
	if err := s.OrderState.TransitionSubOrder(ctx, s.DB, sub, orderstate.Transition{To: to}); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
	if _, err := s.OrderState.SyncOrderStatus(ctx, s.DB, sub.OrderID, nil); err != nil {
		t.Fatalf("sync order: %v", err)
	}
}
