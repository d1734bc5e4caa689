package payments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

// AuthorizeRequest places a hold for the full order total.
type AuthorizeRequest struct {
	PaymentID          uuid.UUID
	OrderID            uuid.UUID
	OrderNumber        string
	AmountCents        int64
	Currency           string
	PaymentMethodToken string
	CustomerRef        string
	IdempotencyKey     string
}

// RefundRequest returns part of a captured payment.
type RefundRequest struct {
	ProviderRef    string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Result is the provider's view of a payment after a call.
type Result struct {
	ProviderRef   string
	Status        enums.PaymentStatus
	AmountCents   int64
	FailureReason string
}

type RefundResult struct {
	ProviderRef string
	Status      enums.RefundStatus
}

// Provider is implemented by every payment service provider adapter.
// Declines are reported as CodePaymentDeclined errors; anything else that
// fails is a dependency error and leaves local state untouched.
type Provider interface {
	Name() enums.PaymentProvider
	Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error)
	Capture(ctx context.Context, ref string, amountCents int64, currency, idempotencyKey string) (*Result, error)
	Void(ctx context.Context, ref, idempotencyKey string) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Lookup(ctx context.Context, ref string) (*Result, error)
}

// Manager picks the provider for a payment: the caller's preference, then the
// currency route, then the default.
type Manager struct {
	providers map[enums.PaymentProvider]Provider
	routes    map[string]enums.PaymentProvider
	fallback  enums.PaymentProvider
}

func NewManager(defaultProvider string, routes map[string]string, providers ...Provider) (*Manager, error) {
	m := &Manager{
		providers: make(map[enums.PaymentProvider]Provider, len(providers)),
		routes:    make(map[string]enums.PaymentProvider, len(routes)),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		m.providers[p.Name()] = p
	}
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("at least one payment provider required")
	}

	fallback, err := enums.ParsePaymentProvider(strings.TrimSpace(defaultProvider))
	if err != nil {
		return nil, err
	}
	if _, ok := m.providers[fallback]; !ok {
		return nil, fmt.Errorf("default payment provider %q is not configured", fallback)
	}
	m.fallback = fallback

	for currency, name := range routes {
		provider, err := enums.ParsePaymentProvider(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("currency route %s: %w", currency, err)
		}
		if _, ok := m.providers[provider]; !ok {
			return nil, fmt.Errorf("currency route %s: provider %q is not configured", currency, provider)
		}
		m.routes[strings.ToUpper(strings.TrimSpace(currency))] = provider
	}
	return m, nil
}

// Resolve returns the provider to authorize a new payment with.
func (m *Manager) Resolve(preferred enums.PaymentProvider, currency string) (Provider, error) {
	if preferred != "" {
		return m.Get(preferred)
	}
	if name, ok := m.routes[strings.ToUpper(currency)]; ok {
		return m.providers[name], nil
	}
	return m.providers[m.fallback], nil
}

// Get returns the provider an existing payment was made with.
func (m *Manager) Get(name enums.PaymentProvider) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "payment provider %q is not available", name).
			WithDetails(map[string]any{"available": m.Names()})
	}
	return p, nil
}

func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
