package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/logger"
)

const (
	outboxRetentionDays = 30
	dlqRetentionDays    = 90
	outboxMaxAttempts   = 10
	outboxPurgeBatch    = 500

	// maxPurgeBatches bounds one run; the rest waits for the next cycle.
	maxPurgeBatches = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	PurgeBefore(tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
}

type deadLetterPurger interface {
	PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPurger
	DeadLetters deadLetterPurger // optional

	Retention    int
	DLQRetention int
	// MaxAttempts matches the publisher's dead-letter threshold.
	MaxAttempts int
	BatchSize   int
}

// outboxRetentionJob trims published and parked outbox rows in short
// transactions so the publisher's SKIP LOCKED fetch is never blocked for long.
type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxPurger
	deadLetters  deadLetterPurger
	retention    time.Duration
	dlqRetention time.Duration
	maxAttempts  int
	batch        int
	now          func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		deadLetters:  params.DeadLetters,
		retention:    days(orDefault(params.Retention, outboxRetentionDays)),
		dlqRetention: days(orDefault(params.DLQRetention, dlqRetentionDays)),
		maxAttempts:  orDefault(params.MaxAttempts, outboxMaxAttempts),
		batch:        orDefault(params.BatchSize, outboxPurgeBatch),
		now:          time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox_retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)

	var total int64
	batches := 0
	for batches < maxPurgeBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.PurgeBefore(tx, cutoff, j.maxAttempts, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		batches++
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}

	var dlqDeleted int64
	if j.deadLetters != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.deadLetters.PurgeBefore(tx, dlqCutoff)
			dlqDeleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox dlq retention: %w", err)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"batches":      batches,
		"rows_deleted": total,
		"dlq_deleted":  dlqDeleted,
	}), "outbox retention cleanup complete")
	return nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
