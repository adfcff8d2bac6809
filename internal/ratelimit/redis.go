package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"softhub/internal/models"
)

// fixedWindowScript increments KEYS[1], starts its expiry on the first hit of
// a window and returns {count, pttl}. A key that somehow lost its TTL gets it
// back so it cannot count forever.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a fixed-window Store shared by every instance pointing at the
// same Redis. Buckets expire on their own, so no sweeper is needed.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "softhub:ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedisStore connects using cfg and verifies the server answers.
func DialRedisStore(ctx context.Context, cfg models.RedisConfig, opts ...RedisOption) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStore(rdb, opts...), nil
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Bucket, error) {
	vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Bucket{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Bucket{}, fmt.Errorf("redis increment %s: unexpected reply length %d", key, len(vals))
	}

	return Bucket{
		Count:   int(vals[0]),
		ResetAt: s.now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
