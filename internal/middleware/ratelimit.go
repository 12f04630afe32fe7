package middleware

import (
	"fmt"
	"net/http"

	"github.com/iyunix/go-madlen/internal/ratelimit"
)

// RateLimitMiddleware rejects requests from a client that exceeded its
// window with 429 and the standard rate limit headers.
func RateLimitMiddleware(limiter *ratelimit.MemoryRateLimiter, name string, logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ratelimit.GetClientIP(r)
			info := limiter.Allow(clientIP)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))

			if !info.Allowed {
				logger.Warn("rate limited", "route", name, "client", clientIP)
				if info.RetryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", info.RetryAfter.Seconds()))
				}
				WriteError(w, http.StatusTooManyRequests, "Too many messages. Please slow down.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
