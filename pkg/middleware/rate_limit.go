package middleware

import (
	"net/http"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/pkg/response"
)

// KeyFunc generates the rate limit keys for a request.
type KeyFunc func(r *http.Request) []string

// RateLimit rejects requests with 429 once any of their keys is over budget.
func RateLimit(limiter ratelimit.Limiter, keys KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range keys(r) {
				ok, err := limiter.Allow(r.Context(), key)
				if err != nil {
					logger.WarnContext(r.Context(), "Rate limiter unavailable", "error", err)
				}
				if !ok {
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey limits by client IP.
func IPKey(r *http.Request) []string {
	if ip := ClientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}
