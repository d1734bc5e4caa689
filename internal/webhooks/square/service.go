package squarewebhook

import (
	"context"
	"encoding/json"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/mercato/mercato-backend/internal/payments"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	pkgsquare "github.com/mercato/mercato-backend/pkg/square"
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

type SquareWebhookEvent struct {
	MerchantID string            `json:"merchant_id"`
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	Data       SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *sq.Payment       `json:"payment,omitempty"`
	Refund  *sq.PaymentRefund `json:"refund,omitempty"`
}

// Decode parses a raw Square notification body.
func Decode(payload []byte) (*SquareWebhookEvent, error) {
	var event SquareWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square event id missing")
	}
	return &event, nil
}

// HandleEvent applies a verified Square payment or refund notification.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent, raw []byte) (bool, error) {
	if event == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	applied, err := s.payments.HandleProviderEvent(ctx, Translate(event, raw))
	if err != nil {
		return false, err
	}
	if !applied {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
		}), "square event acknowledged without changes")
	}
	return applied, nil
}

// Translate maps a Square notification onto the provider-neutral form.
// Square reports every transition as *.updated, so the object status decides
// the kind.
func Translate(event *SquareWebhookEvent, raw []byte) payments.ProviderEvent {
	out := payments.ProviderEvent{
		Provider: enums.PaymentProviderSquare,
		EventID:  event.EventID,
		Type:     event.Type,
		Kind:     payments.EventKindUnknown,
		Payload:  json.RawMessage(raw),
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil {
			return out
		}
		out.PaymentRef = pkgsquare.PaymentID(payment)
		out.AmountCents = pkgsquare.PaymentAmount(payment)
		switch pkgsquare.PaymentStatus(payment) {
		case "APPROVED":
			out.Kind = payments.EventKindAuthorized
		case "COMPLETED":
			out.Kind = payments.EventKindCaptured
		case "CANCELED":
			out.Kind = payments.EventKindVoided
		case "FAILED":
			out.Kind = payments.EventKindAuthorizationFailed
			out.FailureReason = "square payment failed"
		}
	case "refund.created", "refund.updated":
		refund := event.Data.Object.Refund
		if refund == nil {
			return out
		}
		out.RefundRef = pkgsquare.RefundID(refund)
		out.PaymentRef = pkgsquare.RefundPaymentID(refund)
		switch pkgsquare.RefundStatus(refund) {
		case "COMPLETED":
			out.Kind = payments.EventKindRefundSucceeded
		case "FAILED", "REJECTED":
			out.Kind = payments.EventKindRefundFailed
			out.FailureReason = "square refund " + strings.ToLower(pkgsquare.RefundStatus(refund))
		}
	}
	return out
}
