package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercato/mercato-backend/internal/bootstrap"
	"github.com/mercato/mercato-backend/internal/compliance/sink"
	"github.com/mercato/mercato-backend/pkg/bigquery"
	"github.com/mercato/mercato-backend/pkg/metrics"
	"github.com/mercato/mercato-backend/pkg/outbox/idempotency"
	"github.com/mercato/mercato-backend/pkg/pubsub"
)

const serviceKind = "compliance-worker"

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

// run drains the compliance subscription into BigQuery. It needs no
// Postgres handle: every row it writes arrives on the event.
func run(rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger
	boot := context.Background()

	redisClient, err := rt.OpenRedis(boot)
	if err != nil {
		return err
	}

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.ComplianceSubscription)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	rt.OnClose("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(boot, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	rt.OnClose("bigquery", bqClient.Close)

	subscription := pubsubClient.ComplianceSubscription()
	if subscription == nil {
		return errors.New("compliance subscription not configured")
	}

	claims, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}

	service, err := sink.NewService(subscription, bqClient, claims, logg)
	if err != nil {
		return fmt.Errorf("compliance sink: %w", err)
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "compliance worker ready")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("compliance worker: %w", err)
	}
	return nil
}
