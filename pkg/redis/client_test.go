package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/pkg/config"
)

type mockCmdable struct {
	values map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{values: map[string]string{}}
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if v, ok := m.values[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	m.values[key] = value.(string)
	cmd.SetVal("OK")
	return cmd
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := m.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	m.values[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func TestSetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	require.NoError(t, client.Set(ctx, "k", "c", time.Minute))
	v, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.True(t, IsNil(err))
}

func TestKeysAreNamespaced(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "mrc:idempotency:checkout:abc", client.IdempotencyKey("checkout", "abc"))
	assert.Equal(t, "mrc:lock:cron:payout_run", client.LockKey("cron:payout_run"))
	assert.Equal(t, "mrc:webhook:stripe:evt_1", client.WebhookKey("stripe", "evt_1"))
	assert.Equal(t, "mrc:idempotency:x", client.IdempotencyKey(" ", "x"))
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	_, err := client.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, client.Set(context.Background(), "k", "v", time.Minute))
	_, err = client.ReleaseIfOwner(context.Background(), "k", "me")
	assert.Error(t, err)
	_, err = client.ExtendIfOwner(context.Background(), "k", "me", time.Minute)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	_, err = optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}
