package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercato/mercato-backend/internal/bootstrap"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/outbox"
	"github.com/mercato/mercato-backend/pkg/outbox/registry"
	"github.com/mercato/mercato-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	rt, err := bootstrap.Load(serviceKind)
	if err != nil {
		bootstrap.Exit(serviceKind, nil, err)
	}
	err = run(rt)
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", closeErr)
	}
	if err != nil {
		bootstrap.Exit(serviceKind, rt.Logger, err)
	}
}

func run(rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger
	boot := context.Background()

	dbClient, err := rt.OpenDB(boot)
	if err != nil {
		return err
	}

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	rt.OnClose("pubsub", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}
	// flush topic publishers before the pubsub client closes
	rt.OnClose("publishers", func() error {
		service.Stop()
		return nil
	})

	ctx, stop := rt.SignalContext()
	defer stop()
	metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("outbox publisher stopped: %w", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
