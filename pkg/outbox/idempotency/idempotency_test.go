package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "mrc:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestClaimFirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	id := uuid.NewString()
	claimed, err := manager.Claim(context.Background(), "compliance-worker", id)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "mrc:idempotency:evt:processed:compliance-worker:"+id, store.lastKey)
	assert.Equal(t, 24*time.Hour, store.lastTTL)
}

func TestRunSkipsDuplicates(t *testing.T) {
	store := &fakeStore{setNXResult: false}
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	calls := 0
	ran, err := manager.Run(context.Background(), "compliance-worker", "evt-1", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, calls)
}

func TestRunReleasesClaimOnFailure(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	ran, err := manager.Run(context.Background(), "stripe-webhook", "evt_123", func(context.Context) error {
		return errors.New("boom")
	})
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "mrc:idempotency:evt:processed:stripe-webhook:evt_123", store.lastDeleted)
}

func TestClaimStoreError(t *testing.T) {
	store := &fakeStore{setNXError: errors.New("boom")}
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "compliance-worker", "evt-1")
	assert.Error(t, err)
}

func TestClaimValidatesInput(t *testing.T) {
	manager, err := NewManager(&fakeStore{}, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "", "evt-1")
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "compliance-worker", "")
	assert.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
}
