// Package testkit wires the shared transactional services against an
// in-memory sqlite database for service-level tests.
package testkit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/catalog"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// Env bundles the services most domain packages depend on.
type Env struct {
	DB         *gorm.DB
	Client     *db.Client
	Logger     *logger.Logger
	Outbox     *outbox.Service
	Compliance compliance.Service
	Ledger     ledger.Service
	OrderState orderstate.Service
	Catalog    catalog.Service
}

// New opens a fresh database and wires the shared services on top of it.
func New(t *testing.T) *Env {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.Nop()
	pub := outbox.NewService(outbox.NewRepository(conn), logg)

	recorder, err := compliance.NewService(compliance.NewRepository(conn), pub)
	must(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	must(t, err)
	states, err := orderstate.NewService(orderstate.NewRepository(conn), pub, recorder)
	must(t, err)
	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	must(t, err)

	return &Env{
		DB:         conn,
		Client:     client,
		Logger:     logg,
		Outbox:     pub,
		Compliance: recorder,
		Ledger:     ledgerSvc,
		OrderState: states,
		Catalog:    catalogSvc,
	}
}

// Marketplace returns the marketplace settings used across tests.
func Marketplace() config.MarketplaceConfig {
	return config.MarketplaceConfig{
		Currency:             "USD",
		ReturnWindowDays:     14,
		AcceptanceHours:      48,
		DefaultCommissionBps: 1000,
		InvoiceTaxBps:        0,
	}
}

// CountEvents counts outbox rows of the given type.
func (e *Env) CountEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	must(t, e.DB.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

// LedgerTypes lists the ledger event types recorded for an order, oldest first.
func (e *Env) LedgerTypes(t *testing.T, orderID uuid.UUID) []enums.LedgerEventType {
	t.Helper()
	var types []enums.LedgerEventType
	must(t, e.DB.Model(&models.LedgerEvent{}).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Pluck("type", &types).Error)
	return types
}

// Escrow reloads the escrow of a sub-order.
func (e *Env) Escrow(t *testing.T, subOrderID uuid.UUID) models.EscrowTransaction {
	t.Helper()
	var escrow models.EscrowTransaction
	must(t, e.DB.First(&escrow, "sub_order_id = ?", subOrderID).Error)
	return escrow
}

// SubOrder reloads a sub-order with its items.
func (e *Env) SubOrder(t *testing.T, id uuid.UUID) models.SellerSubOrder {
	t.Helper()
	var sub models.SellerSubOrder
	must(t, e.DB.Preload("Items").Preload("Shipments.Items").First(&sub, "id = ?", id).Error)
	return sub
}

// Backdate moves a sub-order's delivery into the past.
func (e *Env) Backdate(t *testing.T, subOrderID uuid.UUID, deliveredAt time.Time) {
	t.Helper()
	must(t, e.DB.Model(&models.SellerSubOrder{}).
		Where("id = ?", subOrderID).
		Update("delivered_at", deliveredAt).Error)
}

// Actor returns an actor reference for the given role.
func Actor(role enums.ActorRole, storeID *uuid.UUID) *outbox.ActorRef {
	userID := uuid.New()
	return &outbox.ActorRef{UserID: &userID, StoreID: storeID, Role: role}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("testkit: %v", err)
	}
}
