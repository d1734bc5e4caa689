package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (bool, error)
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeWebhook verifies and applies Stripe payment and refund events.
func StripeWebhook(svc StripeWebhookService, client stripeVerifier, guard eventGuard, m webhookMetrics, logg *logger.Logger) http.HandlerFunc {
	m = metricsOrNop(m)
	provider := enums.PaymentProviderStripe
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "stripe webhooks not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			m.IncWebhook(string(provider), "rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := client.ConstructEvent(payload, sigHeader)
		if err != nil {
			m.IncWebhook(string(provider), "rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify stripe signature"))
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

		claimed, err := guard.Claim(ctx, provider, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
			return
		}
		if !claimed {
			m.IncWebhook(string(provider), "guarded")
			responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
			return
		}

		applied, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if relErr := guard.Release(ctx, provider, event.ID); relErr != nil {
				logg.Error(ctx, "release stripe webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, "stripe event processed")
		responses.WriteSuccess(w, map[string]any{"received": true, "applied": applied})
	}
}
