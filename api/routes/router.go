package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mercato/mercato-backend/api/controllers"
	webhookcontrollers "github.com/mercato/mercato-backend/api/controllers/webhooks"
	"github.com/mercato/mercato-backend/api/middleware"
	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/internal/app"
	"github.com/mercato/mercato-backend/internal/webhooks"
	squarewebhook "github.com/mercato/mercato-backend/internal/webhooks/square"
	stripewebhook "github.com/mercato/mercato-backend/internal/webhooks/stripe"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// Params carry everything the HTTP surface needs.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	Services *app.Services
	DB       controllers.Pinger
	Redis    RedisClient
	Gatherer prometheus.Gatherer
	Guard    *webhooks.Guard
}

// RedisClient is the slice of the Redis client the router touches.
type RedisClient interface {
	middleware.ResponseStore
	Ping(ctx context.Context) error
}

func NewRouter(p Params) (http.Handler, error) {
	cfg, logg, svc := p.Config, p.Logger, p.Services
	if cfg == nil || logg == nil || svc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "router requires config, logger and services")
	}

	stripeHooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{Payments: svc.Payments, Logger: logg})
	if err != nil {
		return nil, err
	}
	squareHooks, err := squarewebhook.NewService(squarewebhook.ServiceParams{Payments: svc.Payments, Logger: logg})
	if err != nil {
		return nil, err
	}

	var idempotency middleware.ResponseStore
	deps := map[string]controllers.Pinger{}
	if p.DB != nil {
		deps["postgres"] = p.DB
	}
	if p.Redis != nil {
		idempotency = p.Redis
		deps["redis"] = p.Redis
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps, logg))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		stripeHandler := notConfigured("stripe", logg)
		if svc.Stripe != nil && p.Guard != nil {
			stripeHandler = webhookcontrollers.StripeWebhook(stripeHooks, svc.Stripe, p.Guard, svc.PaymentMetrics, logg)
		}
		squareHandler := notConfigured("square", logg)
		if svc.Square != nil && p.Guard != nil {
			squareHandler = webhookcontrollers.SquareWebhook(squareHooks, svc.Square, p.Guard, svc.PaymentMetrics, logg)
		}
		r.Post("/stripe", stripeHandler)
		r.Post("/square", squareHandler)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Get("/cart", controllers.CartGet(svc.Cart, logg))
			r.Put("/cart/items", controllers.CartUpsertItem(svc.Cart, logg))
			r.Delete("/cart/items/{productId}", controllers.CartRemoveItem(svc.Cart, logg))
			r.Delete("/cart", controllers.CartClear(svc.Cart, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotency, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleBuyer))
				buyerRoutes(r, svc, logg)
			})

			r.Route("/seller", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller))
				r.Use(middleware.StoreContext(logg))
				sellerRoutes(r, svc, logg)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
				adminRoutes(r, svc, logg)
			})
		})
	})

	return r, nil
}

func buyerRoutes(r chi.Router, svc *app.Services, logg *logger.Logger) {
	r.Post("/cart/merge", controllers.CartMerge(svc.Cart, logg))
	r.Post("/checkout", controllers.Checkout(svc.Checkout, svc.Cart, logg))

	r.Get("/orders", controllers.OrdersList(svc.Orders, logg))
	r.Get("/orders/{orderId}", controllers.OrderGet(svc.Orders, logg))
	r.Get("/orders/{orderId}/payment", controllers.OrderPayment(svc.Orders, svc.Payments, logg))
	r.Post("/orders/{orderId}/cancel", controllers.OrderCancel(svc.Orders, logg))
	r.Post("/shipments/{shipmentId}/delivered", controllers.ShipmentDelivered(svc.Orders, logg))

	r.Get("/returns", controllers.ReturnsList(svc.Returns, logg))
	r.Post("/returns", controllers.ReturnRequest(svc.Returns, logg))
	r.Get("/returns/{returnId}", controllers.ReturnGet(svc.Returns, logg))
	r.Post("/returns/{returnId}/cancel", controllers.ReturnCancel(svc.Returns, logg))
}

func sellerRoutes(r chi.Router, svc *app.Services, logg *logger.Logger) {
	r.Route("/sub-orders", func(r chi.Router) {
		r.Get("/", controllers.SubOrdersList(svc.Orders, logg))
		r.Get("/{subOrderId}", controllers.SubOrderGet(svc.Orders, logg))
		r.Post("/{subOrderId}/accept", controllers.SubOrderAccept(svc.Orders, logg))
		r.Post("/{subOrderId}/reject", controllers.SubOrderReject(svc.Orders, logg))
		r.Post("/{subOrderId}/shipments", controllers.SubOrderShip(svc.Orders, logg))
		r.Post("/{subOrderId}/cancel-items", controllers.SubOrderCancelItems(svc.Orders, logg))
		r.Get("/{subOrderId}/refunds", controllers.SubOrderRefunds(svc.Orders, svc.Payments, logg))
	})

	r.Route("/returns", func(r chi.Router) {
		r.Get("/", controllers.ReturnsList(svc.Returns, logg))
		r.Post("/", controllers.ReturnInitiate(svc.Returns, logg))
		returnDecisionRoutes(r, svc, logg)
	})

	r.Get("/payout-schedule", controllers.PayoutScheduleGet(svc.Payouts, logg))
	r.Put("/payout-schedule", controllers.PayoutScheduleUpsert(svc.Payouts, logg))
	r.Get("/payouts", controllers.PayoutsList(svc.Payouts, logg))
	r.Get("/payouts/{payoutId}", controllers.PayoutGet(svc.Payouts, logg))

	r.Get("/settlements", controllers.SettlementsList(svc.Settlements, logg))
	r.Get("/settlements/{settlementId}", controllers.SettlementGet(svc.Settlements, logg))

	r.Get("/invoices", controllers.InvoicesList(svc.Invoices, logg))
	r.Get("/invoices/{invoiceId}", controllers.InvoiceGet(svc.Invoices, logg))

	r.Get("/ledger", controllers.LedgerTotals(svc.Ledger, logg))
}

func adminRoutes(r chi.Router, svc *app.Services, logg *logger.Logger) {
	r.Get("/orders", controllers.OrdersList(svc.Orders, logg))
	r.Get("/orders/{orderId}", controllers.OrderGet(svc.Orders, logg))
	r.Get("/orders/{orderId}/payment", controllers.OrderPayment(svc.Orders, svc.Payments, logg))
	r.Post("/orders/{orderId}/payment/reconcile", controllers.PaymentReconcile(svc.Payments, logg))
	r.Get("/orders/{orderId}/ledger", controllers.LedgerForOrder(svc.Ledger, logg))

	r.Route("/sub-orders", func(r chi.Router) {
		r.Get("/", controllers.SubOrdersList(svc.Orders, logg))
		r.Get("/{subOrderId}", controllers.SubOrderGet(svc.Orders, logg))
		r.Get("/{subOrderId}/commissions", controllers.SubOrderCommissions(svc.Commissions, logg))
		r.Get("/{subOrderId}/refunds", controllers.SubOrderRefunds(svc.Orders, svc.Payments, logg))
	})
	r.Post("/refunds/{refundId}/retry", controllers.RefundRetry(svc.Payments, logg))

	r.Route("/commission-rules", func(r chi.Router) {
		r.Get("/", controllers.CommissionRulesList(svc.Commissions, logg))
		r.Post("/", controllers.CommissionRuleCreate(svc.Commissions, logg))
		r.Get("/{ruleId}", controllers.CommissionRuleGet(svc.Commissions, logg))
		r.Put("/{ruleId}", controllers.CommissionRuleUpdate(svc.Commissions, logg))
		r.Delete("/{ruleId}", controllers.CommissionRuleDeactivate(svc.Commissions, logg))
	})

	r.Route("/escrow/{subOrderId}", func(r chi.Router) {
		r.Get("/", controllers.EscrowGet(svc.Escrow, logg))
		r.Post("/hold", controllers.EscrowHold(svc.Escrow, logg))
		r.Post("/unhold", controllers.EscrowUnhold(svc.Escrow, logg))
		r.Post("/release", controllers.EscrowRelease(svc.Escrow, logg))
	})

	r.Route("/returns", func(r chi.Router) {
		r.Get("/", controllers.ReturnsList(svc.Returns, logg))
		returnDecisionRoutes(r, svc, logg)
	})

	r.Route("/payouts", func(r chi.Router) {
		r.Get("/", controllers.PayoutsList(svc.Payouts, logg))
		r.Get("/{payoutId}", controllers.PayoutGet(svc.Payouts, logg))
		r.Post("/{payoutId}/retry", controllers.PayoutRetry(svc.Payouts, logg))
		r.Post("/{payoutId}/cancel", controllers.PayoutCancel(svc.Payouts, logg))
	})

	r.Route("/settlements", func(r chi.Router) {
		r.Get("/", controllers.SettlementsList(svc.Settlements, logg))
		r.Post("/", controllers.SettlementGenerate(svc.Settlements, logg))
		r.Get("/{settlementId}", controllers.SettlementGet(svc.Settlements, logg))
		r.Post("/{settlementId}/finalize", controllers.SettlementFinalize(svc.Settlements, logg))
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", controllers.InvoicesList(svc.Invoices, logg))
		r.Post("/", controllers.InvoiceIssue(svc.Invoices, logg))
		r.Post("/drafts", controllers.InvoicePrepare(svc.Invoices, logg))
		r.Get("/{invoiceId}", controllers.InvoiceGet(svc.Invoices, logg))
		r.Post("/{invoiceId}/publish", controllers.InvoicePublish(svc.Invoices, logg))
		r.Post("/{invoiceId}/credit-notes", controllers.InvoiceCreditNote(svc.Invoices, logg))
		r.Post("/{invoiceId}/void", controllers.InvoiceVoid(svc.Invoices, logg))
	})

	r.Get("/compliance/{entityType}/{entityId}", controllers.ComplianceTrail(svc.Compliance, logg))
}

// returnDecisionRoutes are shared by sellers and admins. The returns service
// checks that a seller owns the return.
func returnDecisionRoutes(r chi.Router, svc *app.Services, logg *logger.Logger) {
	r.Get("/{returnId}", controllers.ReturnGet(svc.Returns, logg))
	r.Post("/{returnId}/approve", controllers.ReturnApprove(svc.Returns, logg))
	r.Post("/{returnId}/reject", controllers.ReturnReject(svc.Returns, logg))
	r.Post("/{returnId}/received", controllers.ReturnReceived(svc.Returns, logg))
	r.Post("/{returnId}/refund", controllers.ReturnRefund(svc.Returns, logg))
}

func notConfigured(provider string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeDependency, "%s webhooks not configured", provider))
	}
}
