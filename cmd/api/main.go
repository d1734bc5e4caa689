package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercato/mercato-backend/api/routes"
	"github.com/mercato/mercato-backend/internal/app"
	"github.com/mercato/mercato-backend/internal/bootstrap"
	"github.com/mercato/mercato-backend/internal/webhooks"
)

const (
	serviceKind   = "api"
	shutdownGrace = 20 * time.Second
)

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

	guard, err := webhooks.NewGuard(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("webhook guard: %w", err)
	}

	router, err := routes.NewRouter(routes.Params{
		Config:   cfg,
		Logger:   logg,
		Services: services,
		DB:       dbClient,
		Redis:    redisClient,
		Gatherer: prometheus.DefaultGatherer,
		Guard:    guard,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	// PORT wins so the platform can assign one.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":   server.Addr,
		"stripe": services.Stripe != nil,
		"square": services.Square != nil,
	})

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
	return nil
}
