package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/pkg/redis"
)

// Manager remembers which message IDs a consumer has handled.
// Keys look like `mrc:idempotency:evt:processed:<consumer>:<id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim marks id as processed for consumer. It reports false when another
// delivery already claimed it.
func (m *Manager) Claim(ctx context.Context, consumer, id string) (bool, error) {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
}

func (m *Manager) Release(ctx context.Context, consumer, id string) error {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Run executes fn at most once per id. The claim is dropped when fn fails so a
// redelivery can retry. The bool result reports whether fn ran.
func (m *Manager) Run(ctx context.Context, consumer, id string, fn func(context.Context) error) (bool, error) {
	claimed, err := m.Claim(ctx, consumer, id)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		if relErr := m.Release(ctx, consumer, id); relErr != nil {
			return true, fmt.Errorf("%w (release claim: %v)", err, relErr)
		}
		return true, err
	}
	return true, nil
}

func (m *Manager) processedKey(consumer, id string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if id == "" {
		return "", errors.New("message id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, id), nil
}
