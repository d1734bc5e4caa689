package webhooks

import (
	"context"

	"github.com/mercato/mercato-backend/pkg/enums"
)

type eventGuard interface {
	Claim(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error)
	Release(ctx context.Context, provider enums.PaymentProvider, eventID string) error
}

type webhookMetrics interface {
	IncWebhook(provider, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) IncWebhook(string, string) {}

func metricsOrNop(m webhookMetrics) webhookMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
