package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// RateLimit limits each client address to limit requests per window. It runs
// after chi's RealIP, so RemoteAddr already reflects proxy headers. Limiter
// errors fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 250*time.Millisecond)
			allowed, err := limiter.Allow(ctx, "api:"+clientIP(r), limit, window)
			cancel()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(window.Seconds()))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
