package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}

	store, err := DialRedisStore(context.Background(), models.RedisConfig{Addr: addr, PoolSize: 4},
		WithRedisPrefix("softhub-test:"+uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_FixedWindow(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first, err := store.Increment(ctx, "captcha:203.0.113.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), first.ResetAt, 2*time.Second)

	second, err := store.Increment(ctx, "captcha:203.0.113.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Count)
	assert.WithinDuration(t, first.ResetAt, second.ResetAt, time.Second)
}

func TestRedisStore_WindowExpires(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", 150*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)

	b, err := store.Increment(ctx, "k", 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Count)
}

func TestRedisStore_WithLimiter(t *testing.T) {
	store := newTestRedisStore(t)
	limiter := New(store)

	ctx := context.Background()
	var allowed []bool
	for i := 0; i < 4; i++ {
		allowed = append(allowed, limiter.Check(ctx, "download_token:x", 3, time.Minute).Allowed)
	}
	assert.Equal(t, []bool{true, true, true, false}, allowed)
}

func TestDialRedisStore_Unreachable(t *testing.T) {
	_, err := DialRedisStore(context.Background(), models.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
