package payouts

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/mercato/mercato-backend/pkg/db/models"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	pkgstripe "github.com/mercato/mercato-backend/pkg/stripe"
)

// TransferRequest moves a payout's amount to the store.
type TransferRequest struct {
	PayoutID       uuid.UUID
	Store          models.Store
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// Transferer is the payout rail. A nil error means the funds were sent.
type Transferer interface {
	Name() string
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

type stripeTransferAPI interface {
	Transfer(ctx context.Context, p pkgstripe.TransferParams) (*stripe.Transfer, error)
}

// StripeTransferer pays connected accounts through Stripe transfers.
type StripeTransferer struct {
	api stripeTransferAPI
}

func NewStripeTransferer(api stripeTransferAPI) *StripeTransferer {
	return &StripeTransferer{api: api}
}

func (t *StripeTransferer) Name() string { return "stripe" }

func (t *StripeTransferer) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Store.StripeAccountID == nil || strings.TrimSpace(*req.Store.StripeAccountID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "store has no connected stripe account")
	}
	tr, err := t.api.Transfer(ctx, pkgstripe.TransferParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Destination:    *req.Store.StripeAccountID,
		TransferGroup:  "payout_" + req.PayoutID.String(),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

// ManualTransferer records payouts settled outside the platform.
type ManualTransferer struct {
	mu   sync.Mutex
	fail error
	sent map[string]string
}

func NewManualTransferer() *ManualTransferer {
	return &ManualTransferer{sent: map[string]string{}}
}

func (t *ManualTransferer) Name() string { return "manual" }

// FailNext makes the next transfer return err.
func (t *ManualTransferer) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

func (t *ManualTransferer) Transfer(_ context.Context, req TransferRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		err := t.fail
		t.fail = nil
		return "", err
	}
	if ref, ok := t.sent[req.IdempotencyKey]; ok {
		return ref, nil
	}
	ref := "mtr_" + uuid.NewString()
	t.sent[req.IdempotencyKey] = ref
	return ref, nil
}
