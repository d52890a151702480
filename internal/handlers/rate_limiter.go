package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atelier-sucre/api/internal/platform/httpx"
)

// RateLimiter gates anonymous write endpoints by caller key.
type RateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per caller inside a fixed window that
// starts on the caller's first request.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*windowBucket
}

type windowBucket struct {
	openedAt time.Time
	hits     int
}

func (b *windowBucket) expired(now time.Time, window time.Duration) bool {
	return now.Sub(b.openedAt) >= window
}

// NewRateLimiter builds a fixed-window in-memory limiter. A nil clock uses
// time.Now; a non-positive limit or window disables limiting.
func NewRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*windowBucket),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	if bucket == nil || bucket.expired(now, l.window) {
		l.dropExpiredLocked(now)
		l.buckets[key] = &windowBucket{openedAt: now, hits: 1}
		return true
	}
	if bucket.hits >= l.limit {
		return false
	}
	bucket.hits++
	return true
}

// dropExpiredLocked evicts stale buckets so idle callers do not accumulate.
// Called only when a new window opens, which bounds the sweep frequency.
func (l *fixedWindowLimiter) dropExpiredLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if bucket.expired(now, l.window) {
			delete(l.buckets, key)
		}
	}
}

// RateLimitMiddleware rejects requests above the limiter's window budget
// before they reach the route handlers. A nil limiter disables the check.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(clientKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, try again later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
