package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/logger"
)

type cancellationRefundSettler interface {
	SettleCancellationRefunds(ctx context.Context, now time.Time, limit int) (int, error)
}

type RefundRetryJobParams struct {
	Logger    *logger.Logger
	Payments  cancellationRefundSettler
	BatchSize int
}

// NewRefundRetryJob builds the job that settles cancellation refunds the
// provider did not accept when the cancellation committed. Their escrows stay
// blocked from release until they settle.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &refundRetryJob{
		logg:     params.Logger,
		payments: params.Payments,
		batch:    batchSize(params.BatchSize),
		now:      time.Now,
	}, nil
}

type refundRetryJob struct {
	logg     *logger.Logger
	payments cancellationRefundSettler
	batch    int
	now      func() time.Time
}

func (j *refundRetryJob) Name() string { return "refund_retry" }

func (j *refundRetryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	settled, err := drain(j.batch, func(limit int) (int, error) {
		return j.payments.SettleCancellationRefunds(ctx, now, limit)
	})
	j.logg.Info(j.logg.WithField(ctx, "refunds_settled", settled), "refund retry sweep complete")
	if err != nil {
		return fmt.Errorf("settle refunds: %w", err)
	}
	return nil
}
