package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

// AuthorizeParams places a manual-capture hold on a payment method.
type AuthorizeParams struct {
	AmountCents     int64
	Currency        string
	PaymentMethodID string
	CustomerID      string
	IdempotencyKey  string
	Metadata        map[string]string
}

func (c *Client) Authorize(ctx context.Context, p AuthorizeParams) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(strings.ToLower(p.Currency)),
		PaymentMethod: stripe.String(p.PaymentMethodID),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	setIdempotency(&params.Params, p.IdempotencyKey)

	intent, err := c.intents.New(params)
	if err != nil {
		return nil, mapError(err, "authorize payment")
	}
	return intent, nil
}

func (c *Client) Capture(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amountCents)}
	params.Context = ctx
	setIdempotency(&params.Params, idempotencyKey)

	intent, err := c.intents.Capture(intentID, params)
	if err != nil {
		return nil, mapError(err, "capture payment")
	}
	return intent, nil
}

func (c *Client) Cancel(ctx context.Context, intentID, idempotencyKey string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	setIdempotency(&params.Params, idempotencyKey)

	intent, err := c.intents.Cancel(intentID, params)
	if err != nil {
		return nil, mapError(err, "cancel payment")
	}
	return intent, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := c.intents.Get(intentID, params)
	if err != nil {
		return nil, mapError(err, "get payment")
	}
	return intent, nil
}

func (c *Client) Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	setIdempotency(&params.Params, idempotencyKey)

	r, err := c.refunds.New(params)
	if err != nil {
		return nil, mapError(err, "refund payment")
	}
	return r, nil
}

// TransferParams moves funds to a connected account.
type TransferParams struct {
	AmountCents    int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
}

func (c *Client) Transfer(ctx context.Context, p TransferParams) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(p.AmountCents),
		Currency:    stripe.String(strings.ToLower(p.Currency)),
		Destination: stripe.String(p.Destination),
	}
	if p.TransferGroup != "" {
		params.TransferGroup = stripe.String(p.TransferGroup)
	}
	params.Context = ctx
	setIdempotency(&params.Params, p.IdempotencyKey)

	t, err := c.transfers.New(params)
	if err != nil {
		return nil, mapError(err, "create transfer")
	}
	return t, nil
}

func setIdempotency(params *stripe.Params, key string) {
	if strings.TrimSpace(key) != "" {
		params.SetIdempotencyKey(key)
	}
}

// mapError converts a Stripe API error into a domain error. Card declines
// become PAYMENT_DECLINED so callers can surface them to buyers.
func mapError(err error, op string) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
	}
	code := pkgerrors.CodeDependency
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		code = pkgerrors.CodePaymentDeclined
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		code = pkgerrors.CodeIdempotency
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case stripeErr.HTTPStatusCode == http.StatusBadRequest:
		code = pkgerrors.CodeValidation
	}
	return pkgerrors.Wrap(code, err, fmt.Sprintf("stripe %s failed", op)).
		WithDetails(map[string]any{"stripe_code": string(stripeErr.Code), "decline_code": string(stripeErr.DeclineCode)})
}
