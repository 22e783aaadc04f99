// Rate limiter for the stream and admin endpoints.
// In-memory token bucket per client address.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxBuckets triggers a sweep of idle buckets when exceeded.
const maxBuckets = 4096

// RateLimiter refills each client's bucket at rate tokens per second up to burst.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter. A rate of zero disables limiting.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket. Returns false if the bucket is empty.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.refill(key, now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) refill(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= maxBuckets {
			rl.prune(now)
		}
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[key] = b
		return b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now
	return b
}

// prune drops buckets that have refilled completely.
func (rl *RateLimiter) prune(now time.Time) {
	full := time.Duration(rl.burst / rl.rate * float64(time.Second))
	for key, b := range rl.buckets {
		if now.Sub(b.last) >= full {
			delete(rl.buckets, key)
		}
	}
}

// RetryAfter returns how many seconds until key's bucket holds a token.
func (rl *RateLimiter) RetryAfter(key string) int {
	if rl == nil || rl.rate <= 0 {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / rl.rate))
}

// clientIP returns the first X-Forwarded-For address, or the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if exceeded.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
