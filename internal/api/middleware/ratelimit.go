package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter cleanup settings.
const (
	CleanupInterval = 10 * time.Minute
	LimiterTTL      = time.Hour
)

// timedLimiter wraps a token bucket with its last use for TTL cleanup.
type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// RateLimiter keeps one token bucket per API key, or per client address for
// unauthenticated requests.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*timedLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
	onLimit  func(w http.ResponseWriter, r *http.Request, retryAfter int)
}

// NewRateLimiter allows rps requests per second per key with the given
// burst. onLimit writes the 429 response.
func NewRateLimiter(rps float64, burst int, onLimit func(http.ResponseWriter, *http.Request, int)) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*timedLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		onLimit:  onLimit,
	}
	if rl.onLimit == nil {
		rl.onLimit = func(w http.ResponseWriter, _ *http.Request, _ int) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}
	}
	return rl
}

// Allow takes a token for key. When none is left it returns the whole
// seconds until one is, at least 1.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	tl := rl.get(key)
	now := rl.now()
	tl.lastUsed.Store(now.UnixNano())
	if tl.limiter.AllowN(now, 1) {
		return true, 0
	}

	// Reserve only to learn the delay; cancel so no token is consumed.
	res := tl.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return false, max(1, int(math.Ceil(delay.Seconds())))
}

func (rl *RateLimiter) get(key string) *timedLimiter {
	rl.mu.RLock()
	tl, ok := rl.limiters[key]
	rl.mu.RUnlock()
	if ok {
		return tl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if tl, ok = rl.limiters[key]; ok {
		return tl
	}
	tl = &timedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	rl.limiters[key] = tl
	return tl
}

// Prune drops limiters unused for longer than ttl and returns how many
// remain.
func (rl *RateLimiter) Prune(ttl time.Duration) int {
	cutoff := rl.now().Add(-ttl).UnixNano()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, tl := range rl.limiters {
		if tl.lastUsed.Load() < cutoff {
			delete(rl.limiters, k)
		}
	}
	return len(rl.limiters)
}

// Run prunes stale limiters until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(LimiterTTL)
		}
	}
}

// Middleware rejects requests over the limit. It must run after
// APIKeyAuth so the key is known.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := APIKeyFrom(r.Context())
		if key == "" {
			key = clientAddr(r)
		}
		if ok, retryAfter := rl.Allow(key); !ok {
			rl.onLimit(w, r, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
