// Package webhooks holds what the provider webhook handlers share.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/redis"
)

// Guard short-circuits redelivered webhooks before they reach the database.
// The payments service still deduplicates on (provider, event id), so a
// lost Redis marker only costs a wasted transaction.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim marks the delivery as seen. It returns false when another delivery
// of the same event already claimed it.
func (g *Guard) Claim(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error) {
	key, err := g.key(provider, eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim webhook %s: %w", eventID, err)
	}
	return set, nil
}

// Release drops the claim so the provider's retry is processed.
func (g *Guard) Release(ctx context.Context, provider enums.PaymentProvider, eventID string) error {
	key, err := g.key(provider, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(provider enums.PaymentProvider, eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("webhook:"+string(provider), eventID), nil
}
