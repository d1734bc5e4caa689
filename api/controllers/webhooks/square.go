package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/mercato/mercato-backend/api/responses"
	squarewebhook "github.com/mercato/mercato-backend/internal/webhooks/square"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	pkgsquare "github.com/mercato/mercato-backend/pkg/square"
)

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent, raw []byte) (bool, error)
}

type squareVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// SquareWebhook verifies and applies Square payment and refund notifications.
func SquareWebhook(svc SquareWebhookService, client squareVerifier, guard eventGuard, m webhookMetrics, logg *logger.Logger) http.HandlerFunc {
	m = metricsOrNop(m)
	provider := enums.PaymentProviderSquare
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "square webhooks not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if !client.VerifySignature(payload, r.Header.Get(pkgsquare.SignatureHeader)) {
			m.IncWebhook(string(provider), "rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		event, err := squarewebhook.Decode(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{"event_id": event.EventID, "event_type": event.Type})

		claimed, err := guard.Claim(ctx, provider, event.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
			return
		}
		if !claimed {
			m.IncWebhook(string(provider), "guarded")
			responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
			return
		}

		applied, err := svc.HandleEvent(ctx, event, payload)
		if err != nil {
			if relErr := guard.Release(ctx, provider, event.EventID); relErr != nil {
				logg.Error(ctx, "release square webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, "square event processed")
		responses.WriteSuccess(w, map[string]any{"received": true, "applied": applied})
	}
}
