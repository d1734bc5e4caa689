package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout caps a single job. Zero leaves jobs bounded by the cycle
	// context only.
	JobTimeout time.Duration
	Clock      func() time.Time
}

type jobMetrics interface {
	ObserveRun(job string, elapsed time.Duration, err error)
	IncSkipped(job string)
}

type nopJobMetrics struct{}

func (nopJobMetrics) ObserveRun(string, time.Duration, error) {}
func (nopJobMetrics) IncSkipped(string)                       {}

// Service ticks through the registered jobs while holding the cluster lock,
// so only one worker replica moves money at a time.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    jobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    nopJobMetrics{},
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        params.Clock,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if params.Metrics != nil {
		svc.metrics = params.Metrics
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Run loops until ctx is canceled, starting with an immediate cycle.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single locked cycle. Used by the worker's one-shot mode.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Service) runCycle(ctx context.Context) error {
	jobs := s.registry.Jobs()
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		for _, job := range jobs {
			s.metrics.IncSkipped(job.Name())
		}
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	now := s.now()
	ran := 0
	for _, job := range jobs {
		if d, ok := job.(scheduled); ok && !d.Due(now) {
			continue
		}
		// the lock TTL may have lapsed during a long job
		if ran > 0 {
			held, err := s.lock.Refresh(ctx)
			if err == nil && !held {
				err = fmt.Errorf("lock taken over before %s", job.Name())
			}
			if err != nil {
				s.logg.Error(ctx, "cron lock lost; abandoning cycle", err)
				return nil
			}
		}
		s.runJob(ctx, job)
		ran++
	}
	s.logg.Info(s.logg.WithField(ctx, "jobs_run", ran), "scheduled run complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := runGuarded(jobCtx, job)
	elapsed := time.Since(start)
	s.metrics.ObserveRun(name, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

// runGuarded turns a job panic into an error so the cycle continues and
// the lock is still released.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
