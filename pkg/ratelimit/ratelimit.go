package ratelimit

import (
	"context"
	"math"
	"time"
)

// Store is the counter backend. The redis adapter satisfies it.
type Store interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up so clients never retry too early.
func (r Result) RetryAfterSeconds() int64 {
	return int64(math.Ceil(r.RetryAfter.Seconds()))
}

// Limiter is a fixed window counter keyed by caller identity.
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
	prefix string
}

func New(store Store, limit int64, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, prefix: "ratelimit:"}
}

func (l *Limiter) Limit() int64 { return l.limit }

// Allow counts one hit for key. On store errors the returned Result allows
// the request and the error is passed back for logging.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, ttl, err := l.store.IncrWindow(ctx, l.prefix+key, l.window)
	if err != nil {
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}, err
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}
