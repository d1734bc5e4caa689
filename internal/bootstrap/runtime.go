// Package bootstrap holds the process scaffolding shared by every binary:
// env loading, config, logging, shared clients and ordered shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/instance"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/migrate"
	"github.com/mercato/mercato-backend/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Runtime carries the loaded config and logger for one process plus the
// resources it must close on the way out.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger

	closers []closer
}

// Load reads .env (when present) and the environment, then builds the
// service logger for kind.
func Load(kind string) (*Runtime, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	logg := logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	if envErr != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}
	return &Runtime{Config: cfg, Logger: logg}, nil
}

// OnClose registers fn to run during Close. Closers run in reverse order.
func (r *Runtime) OnClose(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Close releases every registered resource and reports all failures.
func (r *Runtime) Close() error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errs
}

// OpenDB connects Postgres, exports pool metrics and applies the embedded
// migrations in dev when enabled.
func (r *Runtime) OpenDB(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, r.Config.DB, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	r.OnClose("database", client.Close)

	if err := client.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		r.Logger.Warn(ctx, "db pool metrics not registered: "+err.Error())
	}
	if err := migrate.MaybeRunDev(ctx, r.Config, r.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (r *Runtime) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, r.Config.Redis, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	r.OnClose("redis", client.Close)
	return client, nil
}

// SignalContext is canceled on SIGINT or SIGTERM and carries the process
// identity fields every log line should have.
func (r *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = r.Logger.WithFields(ctx, map[string]any{
		"env":         r.Config.App.Env,
		"serviceKind": r.Config.Service.Kind,
		"instance":    instance.ID(),
	})
	return ctx, stop
}

// Exit logs err against a fallback logger when the runtime never came up.
func Exit(kind string, logg *logger.Logger, err error) {
	if logg == nil {
		logg = logger.New(logger.Options{ServiceName: kind})
	}
	logg.Error(context.Background(), kind+" exited with error", err)
	os.Exit(1)
}
