package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercato/mercato-backend/internal/app"
	"github.com/mercato/mercato-backend/internal/bootstrap"
	"github.com/mercato/mercato-backend/internal/cron"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

const (
	serviceKind   = "cron-worker"
	lockKeyFormat = "cron-worker:%s"
)

func main() {
	once := flag.Bool("once", false, "run a single locked cycle and exit")
	flag.Parse()

	rt, err := bootstrap.Load(serviceKind)
	if err != nil {
		bootstrap.Exit(serviceKind, nil, err)
	}
	err = run(rt, *once)
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", closeErr)
	}
	if err != nil {
		bootstrap.Exit(serviceKind, rt.Logger, err)
	}
}

func run(rt *bootstrap.Runtime, once bool) error {
	cfg, logg := rt.Config, rt.Logger
	boot := context.Background()

	dbClient, err := rt.OpenDB(boot)
	if err != nil {
		return err
	}
	redisClient, err := rt.OpenRedis(boot)
	if err != nil {
		return err
	}

	services, err := app.New(boot, app.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		return fmt.Errorf("build cron jobs: %w", err)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Tick,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx, stop := rt.SignalContext()
	defer stop()

	if once {
		return service.RunOnce(ctx)
	}

	metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cron worker stopped: %w", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) (*cron.Registry, error) {
	authExpiry, err := cron.NewAuthorizationExpiryJob(cron.AuthorizationExpiryJobParams{
		Logger:    logg,
		Orders:    services.Orders,
		Payments:  services.Payments,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	refundRetry, err := cron.NewRefundRetryJob(cron.RefundRetryJobParams{
		Logger:    logg,
		Payments:  services.Payments,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	escrowRelease, err := cron.NewEscrowReleaseJob(cron.EscrowReleaseJobParams{
		Logger:    logg,
		Escrow:    services.Escrow,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	payoutRun, err := cron.NewPayoutRunJob(cron.PayoutRunJobParams{
		Logger:    logg,
		Payouts:   services.Payouts,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	settlementGenerate, err := cron.NewSettlementGenerateJob(cron.SettlementGenerateJobParams{
		Logger:      logg,
		Settlements: services.Settlements,
	})
	if err != nil {
		return nil, err
	}
	invoiceIssue, err := cron.NewInvoiceIssueJob(cron.InvoiceIssueJobParams{
		Logger:   logg,
		Invoices: services.Invoices,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outbox.NewRepository(dbClient.DB()),
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Retention:    cfg.Cron.OutboxRetentionDays,
		DLQRetention: cfg.Cron.DLQRetentionDays,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BatchSize:    cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(
		authExpiry,
		refundRetry,
		cron.Every(escrowRelease, cfg.Cron.EscrowEvery),
		cron.Every(payoutRun, cfg.Cron.PayoutEvery),
		settlementGenerate,
		invoiceIssue,
		cron.Every(outboxRetention, 24*time.Hour),
	), nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
