package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures token bucket limiting. With PerClient set, each
// remote address gets its own bucket; otherwise one bucket is shared.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware rejects requests with 429 once the bucket is empty.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newLimiter(cfg, time.Now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r, cfg.PerClient)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request, perClient bool) string {
	if !perClient {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// idleBucketTTL bounds how long an untouched per-client bucket is retained.
const idleBucketTTL = 10 * time.Minute

type limiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	now     func() time.Time
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	return &limiter{
		rate:    cfg.RPS,
		burst:   float64(cfg.Burst),
		now:     now,
		buckets: map[string]*bucket{},
		swept:   now(),
	}
}

func (l *limiter) allow(key string) bool {
	if l.rate <= 0 || l.burst <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *limiter) sweep(now time.Time) {
	if now.Sub(l.swept) < idleBucketTTL {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.last) >= idleBucketTTL {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}
