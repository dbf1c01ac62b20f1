// Package ratelimit provides Redis-backed rate limiting for submission
// endpoints. When Redis is unavailable (nil store), all rate limits are
// disabled — requests pass. This ensures the service degrades gracefully
// in dev/test environments without Redis, and fails open rather than
// blocking legitimate traffic when Redis itself errors.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store is the minimal interface required for rate limiting.
// It is implemented by RedisStore (go-redis).
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key (only if TTL not already set by the incr).
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key. Returns 0 or negative if expired/missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by the given Store.
// If store is nil, the Limiter is a no-op that always allows requests.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// DefaultSubmitRate is the default max submissions per IP per window.
const DefaultSubmitRate = 60

// DefaultSubmitWindow is the default window for submit rate limiting.
const DefaultSubmitWindow = time.Minute

// CheckSubmit enforces the submission rate limit for the given client IP.
// Returns (allowed, retryAfterSecs).
func (l *Limiter) CheckSubmit(ctx context.Context, ip string, rate int, window time.Duration) (bool, int) {
	if rate <= 0 {
		rate = DefaultSubmitRate
	}
	if window <= 0 {
		window = DefaultSubmitWindow
	}
	key := fmt.Sprintf("rl:submit:%s", ip)
	return l.check(ctx, key, rate, int(window.Seconds()))
}

// ClientIP extracts the real client IP from a request, handling reverse proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// check is the generic increment-and-check against a store key, implementing
// a fixed window counter via INCR + EXPIRE: the first INCR of a window sets
// the key's expiry, and the count starts over only once the key expires. It
// is not a sliding window.
// Returns (allowed, retryAfterSecs). If store is nil, always returns (true, 0).
func (l *Limiter) check(ctx context.Context, key string, max int, ttlSecs int) (bool, int) {
	if l.store == nil {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		// Store error — fail open (allow request, don't block on infra issues).
		return true, 0
	}

	if count == 1 {
		l.store.Expire(ctx, key, time.Duration(ttlSecs)*time.Second)
	}

	if count > int64(max) {
		ttl, _ := l.store.TTL(ctx, key)
		retry := int(ttl.Seconds())
		if retry < 1 {
			retry = ttlSecs
		}
		return false, retry
	}

	return true, 0
}
