// Package ratelimit provides fixed-window request throttling keyed by endpoint
// class and client identity. Counting is delegated to a Store so the
// in-process map can be swapped for a shared Redis counter when several
// instances sit behind one load balancer.
//
// Windows are fixed, not sliding: a bucket opened at t0 counts every request
// until t0+window, so a client can get up to 2x limit across a boundary.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Bucket is the state of one key's current window.
type Bucket struct {
	Count   int
	ResetAt time.Time
}

// Store counts requests per key. Increment must be atomic per key: it opens a
// fresh bucket with Count 1 when none exists or the current one has reached
// ResetAt, and otherwise adds one to Count.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Bucket, error)
	Close() error
}

// Result carries the decision and the values for the X-RateLimit-* headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied client should wait, rounded up to a whole
// second and never less than one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// Limiter applies per-call limits against a Store. It never returns an error.
type Limiter struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Limiter)

// WithClock overrides the clock used for results computed without the store.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request for key and reports whether it fits in limit
// requests per window. limit <= 0 or window <= 0 always denies.
//
// A store failure allows the request: throttling is best-effort and an
// unreachable counter must not take the site down with it.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.now()
	if limit <= 0 || window <= 0 {
		return Result{Allowed: false, Limit: max(limit, 0), Remaining: 0, ResetAt: now.Add(max(window, 0))}
	}

	b, err := l.store.Increment(ctx, key, window)
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, allowing request", "key", key, "error", err)
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
	}

	return Result{
		Allowed:   b.Count <= limit,
		Limit:     limit,
		Remaining: max(limit-b.Count, 0),
		ResetAt:   b.ResetAt,
	}
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
