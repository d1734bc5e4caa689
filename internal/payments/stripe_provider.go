package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/mercato/mercato-backend/pkg/enums"
	pkgstripe "github.com/mercato/mercato-backend/pkg/stripe"
)

type stripeAPI interface {
	Authorize(ctx context.Context, p pkgstripe.AuthorizeParams) (*stripe.PaymentIntent, error)
	Capture(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*stripe.PaymentIntent, error)
	Cancel(ctx context.Context, intentID, idempotencyKey string) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error)
	Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*stripe.Refund, error)
}

// StripeProvider authorizes through PaymentIntents with manual capture.
type StripeProvider struct {
	api stripeAPI
}

func NewStripeProvider(api stripeAPI) (*StripeProvider, error) {
	if api == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeProvider{api: api}, nil
}

func (p *StripeProvider) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	intent, err := p.api.Authorize(ctx, pkgstripe.AuthorizeParams{
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodToken,
		CustomerID:      req.CustomerRef,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata: map[string]string{
			"order_id":     req.OrderID.String(),
			"order_number": req.OrderNumber,
			"payment_id":   req.PaymentID.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func (p *StripeProvider) Capture(ctx context.Context, ref string, amountCents int64, _ string, idempotencyKey string) (*Result, error) {
	intent, err := p.api.Capture(ctx, ref, amountCents, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func (p *StripeProvider) Void(ctx context.Context, ref, idempotencyKey string) (*Result, error) {
	intent, err := p.api.Cancel(ctx, ref, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	r, err := p.api.Refund(ctx, req.ProviderRef, req.AmountCents, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return &RefundResult{ProviderRef: r.ID, Status: StripeRefundStatus(r.Status)}, nil
}

func (p *StripeProvider) Lookup(ctx context.Context, ref string) (*Result, error) {
	intent, err := p.api.GetPaymentIntent(ctx, ref)
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func intentResult(intent *stripe.PaymentIntent) *Result {
	res := &Result{
		ProviderRef: intent.ID,
		Status:      StripeIntentStatus(intent.Status),
		AmountCents: intent.Amount,
	}
	if res.Status == enums.PaymentStatusCaptured {
		res.AmountCents = intent.AmountReceived
	}
	if intent.LastPaymentError != nil {
		res.FailureReason = intent.LastPaymentError.Msg
	}
	return res
}

// StripeIntentStatus maps a PaymentIntent status onto the local payment status.
func StripeIntentStatus(status stripe.PaymentIntentStatus) enums.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return enums.PaymentStatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return enums.PaymentStatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		return enums.PaymentStatusVoided
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func StripeRefundStatus(status stripe.RefundStatus) enums.RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return enums.RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return enums.RefundStatusFailed
	default:
		return enums.RefundStatusPending
	}
}
