package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/internal/payouts"
	"github.com/mercato/mercato-backend/pkg/logger"
)

type payoutRunner interface {
	RunDue(ctx context.Context, now time.Time, limit int) (payouts.RunResult, error)
}

type PayoutRunJobParams struct {
	Logger    *logger.Logger
	Payouts   payoutRunner
	BatchSize int
}

func NewPayoutRunJob(params PayoutRunJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	return &payoutRunJob{
		logg:    params.Logger,
		payouts: params.Payouts,
		batch:   batchSize(params.BatchSize),
		now:     time.Now,
	}, nil
}

type payoutRunJob struct {
	logg    *logger.Logger
	payouts payoutRunner
	batch   int
	now     func() time.Time
}

func (j *payoutRunJob) Name() string { return "payout_run" }

func (j *payoutRunJob) Run(ctx context.Context) error {
	result, err := j.payouts.RunDue(ctx, j.now().UTC(), j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"schedules": result.Schedules,
		"created":   result.Created,
		"paid":      result.Paid,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}), "payout run complete")
	if err != nil {
		return fmt.Errorf("run payouts: %w", err)
	}
	return nil
}
