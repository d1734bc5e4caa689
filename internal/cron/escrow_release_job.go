package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/logger"
)

type escrowReleaser interface {
	ReleaseEligible(ctx context.Context, now time.Time, limit int) (int, error)
}

type EscrowReleaseJobParams struct {
	Logger    *logger.Logger
	Escrow    escrowReleaser
	BatchSize int
}

func NewEscrowReleaseJob(params EscrowReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &escrowReleaseJob{
		logg:   params.Logger,
		escrow: params.Escrow,
		batch:  batchSize(params.BatchSize),
		now:    time.Now,
	}, nil
}

type escrowReleaseJob struct {
	logg   *logger.Logger
	escrow escrowReleaser
	batch  int
	now    func() time.Time
}

func (j *escrowReleaseJob) Name() string { return "escrow_release" }

func (j *escrowReleaseJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	released, err := drain(j.batch, func(limit int) (int, error) {
		return j.escrow.ReleaseEligible(ctx, now, limit)
	})
	j.logg.Info(j.logg.WithField(ctx, "escrows_released", released), "escrow release sweep complete")
	if err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}
	return nil
}
