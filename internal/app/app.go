// Package app assembles the marketplace services shared by the API and the
// background workers.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercato/mercato-backend/internal/cart"
	"github.com/mercato/mercato-backend/internal/catalog"
	"github.com/mercato/mercato-backend/internal/checkout"
	"github.com/mercato/mercato-backend/internal/commissions"
	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/escrow"
	"github.com/mercato/mercato-backend/internal/invoices"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/internal/orders"
	"github.com/mercato/mercato-backend/internal/orderstate"
	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/internal/payouts"
	"github.com/mercato/mercato-backend/internal/returns"
	"github.com/mercato/mercato-backend/internal/settlements"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/outbox"
	pkgsquare "github.com/mercato/mercato-backend/pkg/square"
	pkgstripe "github.com/mercato/mercato-backend/pkg/stripe"
)

// Params carry the process-level dependencies.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Registry prometheus.Registerer
}

// Services is the wired service graph.
type Services struct {
	Outbox      *outbox.Service
	Compliance  compliance.Service
	Ledger      ledger.Service
	OrderState  orderstate.Service
	Catalog     catalog.Service
	Cart        cart.Service
	Checkout    checkout.Service
	Escrow      escrow.Service
	Commissions commissions.Service
	Payments    payments.Service
	Orders      orders.Service
	Returns     returns.Service
	Payouts     payouts.Service
	Settlements settlements.Service
	Invoices    invoices.Service

	PaymentMetrics *metrics.PaymentMetrics

	// Provider clients are nil when their credentials are not configured.
	Stripe *pkgstripe.Client
	Square *pkgsquare.Client
}

// New builds every service against a single database client.
func New(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	cfg := p.Config
	conn := p.DB.DB()
	paymentMetrics := metrics.NewPaymentMetrics(p.Registry)

	s := &Services{
		Outbox:         outbox.NewService(outbox.NewRepository(conn), p.Logger),
		PaymentMetrics: paymentMetrics,
	}
	var err error
	if s.Compliance, err = compliance.NewService(compliance.NewRepository(conn), s.Outbox); err != nil {
		return nil, err
	}
	if s.Ledger, err = ledger.NewService(ledger.NewRepository(conn)); err != nil {
		return nil, err
	}
	if s.OrderState, err = orderstate.NewService(orderstate.NewRepository(conn), s.Outbox, s.Compliance); err != nil {
		return nil, err
	}
	if s.Catalog, err = catalog.NewService(catalog.NewRepository(conn)); err != nil {
		return nil, err
	}
	carts := cart.NewRepository(conn)
	if s.Cart, err = cart.NewService(carts, p.DB, s.Catalog, p.Logger); err != nil {
		return nil, err
	}
	if s.Commissions, err = commissions.NewService(commissions.NewRepository(conn), p.DB, s.Ledger, s.Compliance, cfg.Marketplace.DefaultCommissionBps); err != nil {
		return nil, err
	}
	if s.Escrow, err = escrow.NewService(escrow.ServiceParams{
		Repo:         escrow.NewRepository(conn),
		Tx:           p.DB,
		States:       s.OrderState,
		Ledger:       s.Ledger,
		Compliance:   s.Compliance,
		Outbox:       s.Outbox,
		Logger:       p.Logger,
		ReturnWindow: cfg.Marketplace.ReturnWindow(),
	}); err != nil {
		return nil, err
	}

	if err := s.connectProviders(ctx, cfg, p.Logger); err != nil {
		return nil, err
	}
	manager, err := s.paymentManager(cfg)
	if err != nil {
		return nil, err
	}
	if s.Payments, err = payments.NewService(payments.ServiceParams{
		Repo:             payments.NewRepository(conn),
		Tx:               p.DB,
		Providers:        manager,
		States:           s.OrderState,
		Escrow:           s.Escrow,
		Commissions:      s.Commissions,
		Inventory:        s.Catalog,
		Ledger:           s.Ledger,
		Compliance:       s.Compliance,
		Outbox:           s.Outbox,
		Metrics:          paymentMetrics,
		Logger:           p.Logger,
		AcceptanceWindow: cfg.Marketplace.AcceptanceWindow(),
	}); err != nil {
		return nil, err
	}

	if s.Checkout, err = checkout.NewService(checkout.ServiceParams{
		Repo:       checkout.NewRepository(conn),
		Carts:      carts,
		Tx:         p.DB,
		Catalog:    s.Catalog,
		States:     s.OrderState,
		Escrow:     s.Escrow,
		Payments:   s.Payments,
		Compliance: s.Compliance,
		Outbox:     s.Outbox,
		Logger:     p.Logger,
	}); err != nil {
		return nil, err
	}
	if s.Orders, err = orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(conn),
		Tx:         p.DB,
		States:     s.OrderState,
		Escrow:     s.Escrow,
		Payments:   s.Payments,
		Inventory:  s.Catalog,
		Compliance: s.Compliance,
		Outbox:     s.Outbox,
		Logger:     p.Logger,
	}); err != nil {
		return nil, err
	}
	if s.Returns, err = returns.NewService(returns.ServiceParams{
		Repo:         returns.NewRepository(conn),
		Tx:           p.DB,
		States:       s.OrderState,
		Payments:     s.Payments,
		Compliance:   s.Compliance,
		Outbox:       s.Outbox,
		Logger:       p.Logger,
		ReturnWindow: cfg.Marketplace.ReturnWindow(),
	}); err != nil {
		return nil, err
	}

	transferer, err := s.payoutTransferer(cfg)
	if err != nil {
		return nil, err
	}
	if s.Payouts, err = payouts.NewService(payouts.ServiceParams{
		Repo:       payouts.NewRepository(conn),
		Tx:         p.DB,
		Transferer: transferer,
		Ledger:     s.Ledger,
		Compliance: s.Compliance,
		Outbox:     s.Outbox,
		Logger:     p.Logger,
		Metrics:    paymentMetrics,
	}); err != nil {
		return nil, err
	}
	if s.Settlements, err = settlements.NewService(settlements.ServiceParams{
		Repo:       settlements.NewRepository(conn),
		Tx:         p.DB,
		Compliance: s.Compliance,
		Outbox:     s.Outbox,
		Logger:     p.Logger,
	}); err != nil {
		return nil, err
	}
	if s.Invoices, err = invoices.NewService(invoices.ServiceParams{
		Repo:        invoices.NewRepository(conn),
		Commissions: commissions.NewRepository(conn),
		Tx:          p.DB,
		Compliance:  s.Compliance,
		Outbox:      s.Outbox,
		Logger:      p.Logger,
		TaxBps:      cfg.Marketplace.InvoiceTaxBps,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) connectProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	if cfg.Stripe.Enabled() {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return fmt.Errorf("stripe client: %w", err)
		}
		s.Stripe = client
	}
	if cfg.Square.Enabled() {
		client, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return fmt.Errorf("square client: %w", err)
		}
		s.Square = client
	}
	return nil
}

func (s *Services) paymentManager(cfg *config.Config) (*payments.Manager, error) {
	var providers []payments.Provider
	if s.Stripe != nil {
		p, err := payments.NewStripeProvider(s.Stripe)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if s.Square != nil {
		p, err := payments.NewSquareProvider(s.Square)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Payments.EnableManual {
		providers = append(providers, payments.NewManualProvider())
	}
	return payments.NewManager(cfg.Payments.DefaultProvider, cfg.Payments.CurrencyRoutes, providers...)
}

func (s *Services) payoutTransferer(cfg *config.Config) (payouts.Transferer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Payments.PayoutProvider)) {
	case "stripe":
		if s.Stripe == nil {
			return nil, fmt.Errorf("stripe payouts require %s", config.EnvStripeAPIKey)
		}
		return payouts.NewStripeTransferer(s.Stripe), nil
	case "manual":
		return payouts.NewManualTransferer(), nil
	default:
		return nil, fmt.Errorf("unsupported payout provider %q", cfg.Payments.PayoutProvider)
	}
}
