package payments

import (
	"context"
	"fmt"

	sq "github.com/square/square-go-sdk"

	"github.com/mercato/mercato-backend/pkg/enums"
	pkgsquare "github.com/mercato/mercato-backend/pkg/square"
)

type squareAPI interface {
	CreatePayment(ctx context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error)
	CompletePayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params pkgsquare.RefundParams) (*sq.PaymentRefund, error)
}

// SquareProvider authorizes with autocomplete disabled and completes on capture.
type SquareProvider struct {
	api squareAPI
}

func NewSquareProvider(api squareAPI) (*SquareProvider, error) {
	if api == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareProvider{api: api}, nil
}

func (p *SquareProvider) Name() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (p *SquareProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	payment, err := p.api.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		CustomerID:     req.CustomerRef,
		SourceID:       req.PaymentMethodToken,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.OrderNumber,
		Note:           "order " + req.OrderNumber,
	})
	if err != nil {
		return nil, err
	}
	return squareResult(payment), nil
}

// Capture completes the payment. Square only completes the approved amount,
// so a smaller capture refunds the difference straight away.
func (p *SquareProvider) Capture(ctx context.Context, ref string, amountCents int64, currency, idempotencyKey string) (*Result, error) {
	payment, err := p.api.CompletePayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	res := squareResult(payment)
	if remainder := pkgsquare.PaymentAmount(payment) - amountCents; remainder > 0 && res.Status == enums.PaymentStatusCaptured {
		if _, err := p.api.RefundPayment(ctx, pkgsquare.RefundParams{
			PaymentID:      ref,
			AmountCents:    remainder,
			Currency:       currency,
			Reason:         "partial capture",
			IdempotencyKey: idempotencyKey + "-remainder",
		}); err != nil {
			return nil, err
		}
		res.AmountCents = amountCents
	}
	return res, nil
}

func (p *SquareProvider) Void(ctx context.Context, ref, _ string) (*Result, error) {
	payment, err := p.api.CancelPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	return squareResult(payment), nil
}

func (p *SquareProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	refund, err := p.api.RefundPayment(ctx, pkgsquare.RefundParams{
		PaymentID:      req.ProviderRef,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{
		ProviderRef: pkgsquare.RefundID(refund),
		Status:      SquareRefundStatus(pkgsquare.RefundStatus(refund)),
	}, nil
}

func (p *SquareProvider) Lookup(ctx context.Context, ref string) (*Result, error) {
	payment, err := p.api.GetPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	return squareResult(payment), nil
}

func squareResult(payment *sq.Payment) *Result {
	return &Result{
		ProviderRef: pkgsquare.PaymentID(payment),
		Status:      SquarePaymentStatus(pkgsquare.PaymentStatus(payment)),
		AmountCents: pkgsquare.PaymentAmount(payment),
	}
}

// SquarePaymentStatus maps Square's payment status onto the local one.
func SquarePaymentStatus(status string) enums.PaymentStatus {
	switch status {
	case "APPROVED":
		return enums.PaymentStatusAuthorized
	case "COMPLETED":
		return enums.PaymentStatusCaptured
	case "CANCELED":
		return enums.PaymentStatusVoided
	case "FAILED":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func SquareRefundStatus(status string) enums.RefundStatus {
	switch status {
	case "COMPLETED":
		return enums.RefundStatusSucceeded
	case "REJECTED", "FAILED":
		return enums.RefundStatusFailed
	default:
		return enums.RefundStatusPending
	}
}
