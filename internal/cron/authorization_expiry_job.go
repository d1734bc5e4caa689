package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultBatchSize = 200
	maxBatchesPerRun = 10
)

type expiredSubOrderRejecter interface {
	RejectExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type stalePaymentReconciler interface {
	ReconcileStale(ctx context.Context, now time.Time, limit int) (int, error)
}

type AuthorizationExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    expiredSubOrderRejecter
	Payments  stalePaymentReconciler
	BatchSize int
}

// NewAuthorizationExpiryJob builds the job that rejects sub-orders sellers
// never answered and then settles the payments those rejections unblock.
func NewAuthorizationExpiryJob(params AuthorizationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &authorizationExpiryJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		batch:    batchSize(params.BatchSize),
		now:      time.Now,
	}, nil
}

type authorizationExpiryJob struct {
	logg     *logger.Logger
	orders   expiredSubOrderRejecter
	payments stalePaymentReconciler
	batch    int
	now      func() time.Time
}

func (j *authorizationExpiryJob) Name() string { return "authorization_expiry" }

func (j *authorizationExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rejected, rejectErr := drain(j.batch, func(limit int) (int, error) {
		return j.orders.RejectExpired(ctx, now, limit)
	})
	settled, settleErr := drain(j.batch, func(limit int) (int, error) {
		return j.payments.ReconcileStale(ctx, now, limit)
	})
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"sub_orders_rejected": rejected,
		"payments_settled":    settled,
	}), "authorization expiry sweep complete")
	return multierr.Combine(rejectErr, settleErr)
}

// drain calls fn until a batch comes back short or the per-run cap is hit.
func drain(limit int, fn func(limit int) (int, error)) (int, error) {
	total := 0
	for i := 0; i < maxBatchesPerRun; i++ {
		n, err := fn(limit)
		total += n
		if err != nil {
			return total, err
		}
		if n < limit {
			break
		}
	}
	return total, nil
}

func batchSize(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}
