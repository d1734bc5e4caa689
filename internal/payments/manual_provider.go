package payments

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

// Tokens recognised by the manual provider to simulate provider outcomes.
const (
	ManualDeclineToken     = "manual_decline"
	ManualUnavailableToken = "manual_unavailable"
)

type manualPayment struct {
	status     enums.PaymentStatus
	authorized int64
	captured   int64
	refunded   int64
}

// ManualProvider settles payments in memory. It backs development setups
// and tests; every call is idempotent on its key.
type ManualProvider struct {
	mu         sync.Mutex
	payments   map[string]*manualPayment
	keys       map[string]string
	refundFail error
}

func NewManualProvider() *ManualProvider {
	return &ManualProvider{
		payments: map[string]*manualPayment{},
		keys:     map[string]string{},
	}
}

func (p *ManualProvider) Name() enums.PaymentProvider {
	return enums.PaymentProviderManual
}

func (p *ManualProvider) Authorize(_ context.Context, req AuthorizeRequest) (*Result, error) {
	switch req.PaymentMethodToken {
	case ManualDeclineToken:
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, "card declined").
			WithDetails(map[string]any{"decline_code": "generic_decline"})
	case ManualUnavailableToken:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "manual provider unavailable")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return p.result(ref), nil
	}
	ref := "man_" + uuid.NewString()
	p.payments[ref] = &manualPayment{status: enums.PaymentStatusAuthorized, authorized: req.AmountCents}
	if req.IdempotencyKey != "" {
		p.keys[req.IdempotencyKey] = ref
	}
	return p.result(ref), nil
}

func (p *ManualProvider) Capture(_ context.Context, ref string, amountCents int64, _ string, _ string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[ref]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "manual payment not found")
	}
	switch payment.status {
	case enums.PaymentStatusCaptured:
		return p.result(ref), nil
	case enums.PaymentStatusAuthorized:
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "manual payment is %s", payment.status)
	}
	if amountCents > payment.authorized {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture exceeds authorization")
	}
	payment.captured = amountCents
	payment.status = enums.PaymentStatusCaptured
	return p.result(ref), nil
}

func (p *ManualProvider) Void(_ context.Context, ref string, _ string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[ref]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "manual payment not found")
	}
	if payment.status != enums.PaymentStatusAuthorized && payment.status != enums.PaymentStatusVoided {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "manual payment is %s", payment.status)
	}
	payment.status = enums.PaymentStatusVoided
	return p.result(ref), nil
}

// FailNextRefund makes the next refund return err without moving money.
func (p *ManualProvider) FailNextRefund(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundFail = err
}

func (p *ManualProvider) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refundFail != nil {
		err := p.refundFail
		p.refundFail = nil
		return nil, err
	}
	if ref, ok := p.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &RefundResult{ProviderRef: ref, Status: enums.RefundStatusSucceeded}, nil
	}
	payment, ok := p.payments[req.ProviderRef]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "manual payment not found")
	}
	if req.AmountCents > payment.captured-payment.refunded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds captured amount")
	}
	payment.refunded += req.AmountCents
	ref := "mre_" + uuid.NewString()
	if req.IdempotencyKey != "" {
		p.keys[req.IdempotencyKey] = ref
	}
	return &RefundResult{ProviderRef: ref, Status: enums.RefundStatusSucceeded}, nil
}

func (p *ManualProvider) Lookup(_ context.Context, ref string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.payments[ref]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "manual payment not found")
	}
	return p.result(ref), nil
}

// Expire simulates the provider dropping an uncaptured authorization.
func (p *ManualProvider) Expire(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payment, ok := p.payments[ref]; ok && payment.status == enums.PaymentStatusAuthorized {
		payment.status = enums.PaymentStatusVoided
	}
}

func (p *ManualProvider) result(ref string) *Result {
	payment := p.payments[ref]
	amount := payment.authorized
	if payment.status == enums.PaymentStatusCaptured {
		amount = payment.captured
	}
	return &Result{ProviderRef: ref, Status: payment.status, AmountCents: amount}
}
