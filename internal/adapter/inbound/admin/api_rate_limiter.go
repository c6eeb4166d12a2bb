package admin

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/complyflow/complyflow/internal/domain/auth"
)

// apiRateLimitEntry tracks request counts for a single caller.
type apiRateLimitEntry struct {
	count   int
	resetAt time.Time
}

// apiRateLimiter is a fixed-window limiter keyed by caller.
type apiRateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*apiRateLimitEntry
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// newAPIRateLimiter creates a rate limiter with the given limits.
func newAPIRateLimiter(maxRequests int, window time.Duration) *apiRateLimiter {
	return &apiRateLimiter{
		entries:     make(map[string]*apiRateLimitEntry),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// allow checks if the given caller may make another request.
// Returns (allowed, secondsUntilReset).
func (rl *apiRateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// Lazy cleanup of expired windows.
	for k, e := range rl.entries {
		if now.After(e.resetAt) {
			delete(rl.entries, k)
		}
	}

	entry, ok := rl.entries[key]
	if !ok {
		rl.entries[key] = &apiRateLimitEntry{count: 1, resetAt: now.Add(rl.window)}
		return true, 0
	}

	if entry.count >= rl.maxRequests {
		retryAfter := int(entry.resetAt.Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	entry.count++
	return true, 0
}

// rateLimitKey limits authenticated callers per key identity and anonymous
// ones per address.
func rateLimitKey(r *http.Request) string {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return "id:" + id.ID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// apiRateLimitMiddleware answers 429 with a Retry-After header once a caller
// exceeds the configured limit. Loopback requests are exempt in dev mode.
func (h *AdminAPIHandler) apiRateLimitMiddleware(next http.Handler) http.Handler {
	if h.rateLimit <= 0 {
		return next
	}
	limiter := newAPIRateLimiter(h.rateLimit, h.rateLimitWindow)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.devMode && isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter := limiter.allow(rateLimitKey(r))
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
