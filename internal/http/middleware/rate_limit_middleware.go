package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/http/response"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/security"
)

// RateLimiter applies a fixed-window request limit per key. Claims traffic
// is keyed by the authenticated subject so a misbehaving bot instance
// cannot starve the others; everything else falls back to client IP.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	scope   string
	keyFunc func(r *http.Request) string
	cleanup time.Time
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewRateLimiterWithKey(limit, window, scope, nil)
}

func NewRateLimiterWithKey(limit int, window time.Duration, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		hits:    make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		scope:   scope,
		keyFunc: keyFunc,
		cleanup: time.Now().Add(window),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			allowed, remaining, retryAfter := rl.allow(key)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			if !allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, hits := range rl.hits {
			if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
				delete(rl.hits, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	hits := rl.hits[key]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}

	if len(pruned) >= rl.limit {
		rl.hits[key] = pruned
		retry := pruned[0].Add(rl.window).Sub(now)
		if retry <= 0 {
			retry = time.Second
		}
		return false, 0, retry
	}

	rl.hits[key] = append(pruned, now)
	return true, rl.limit - len(pruned) - 1, 0
}

// SubjectOrIPKeyFunc keys by the verified token subject when the request
// carries one, falling back to client IP.
func SubjectOrIPKeyFunc(jwtMgr *security.JWTManager) func(r *http.Request) string {
	return func(r *http.Request) string {
		if claims, ok := ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
			return "sub:" + claims.Subject
		}
		if jwtMgr != nil {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				if claims, err := jwtMgr.Parse(strings.TrimSpace(auth[7:])); err == nil && claims.Subject != "" {
					return "sub:" + claims.Subject
				}
			}
		}
		return clientIPKey(r)
	}
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
