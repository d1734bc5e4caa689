package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

type eventHandler interface {
	HandleProviderEvent(ctx context.Context, event payments.ProviderEvent) (bool, error)
}

type ServiceParams struct {
	Payments eventHandler
	Logger   *logger.Logger
}

type Service struct {
	payments eventHandler
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// HandleEvent translates a verified Stripe event and applies it. It reports
// whether the delivery changed any payment state.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	if event == nil || event.Data == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	translated, err := Translate(event)
	if err != nil {
		return false, err
	}
	applied, err := s.payments.HandleProviderEvent(ctx, translated)
	if err != nil {
		return false, err
	}
	if !applied {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}), "stripe event acknowledged without changes")
	}
	return applied, nil
}

// Translate maps a Stripe event onto the provider-neutral form.
func Translate(event *stripe.Event) (payments.ProviderEvent, error) {
	out := payments.ProviderEvent{
		Provider: enums.PaymentProviderStripe,
		EventID:  event.ID,
		Type:     string(event.Type),
		Kind:     payments.EventKindUnknown,
		Payload:  json.RawMessage(event.Data.Raw),
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentAmountCapturableUpdated,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return out, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		out.PaymentRef = intent.ID
		switch event.Type {
		case stripe.EventTypePaymentIntentAmountCapturableUpdated:
			out.Kind = payments.EventKindAuthorized
			out.AmountCents = intent.AmountCapturable
		case stripe.EventTypePaymentIntentPaymentFailed:
			out.Kind = payments.EventKindAuthorizationFailed
			if intent.LastPaymentError != nil {
				out.FailureReason = intent.LastPaymentError.Msg
			}
		case stripe.EventTypePaymentIntentSucceeded:
			out.Kind = payments.EventKindCaptured
			out.AmountCents = intent.AmountReceived
		case stripe.EventTypePaymentIntentCanceled:
			out.Kind = payments.EventKindVoided
		}

	case stripe.EventType("refund.updated"), stripe.EventType("refund.failed"), stripe.EventTypeChargeRefundUpdated:
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return out, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund event")
		}
		out.RefundRef = refund.ID
		out.AmountCents = refund.Amount
		if refund.PaymentIntent != nil {
			out.PaymentRef = refund.PaymentIntent.ID
		}
		switch refund.Status {
		case stripe.RefundStatusSucceeded:
			out.Kind = payments.EventKindRefundSucceeded
		case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
			out.Kind = payments.EventKindRefundFailed
			out.FailureReason = string(refund.FailureReason)
		}
	}
	return out, nil
}
