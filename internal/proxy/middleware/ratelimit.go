package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/ratelimit"
)

// NewRateLimitMiddleware enforces the global and per-ip request tiers.
// Denials are 429 with no Retry-After header.
func NewRateLimitMiddleware(limits *ratelimit.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limits.CheckRequest(r.Context(), clientIP(r)); err != nil {
				writeJSONError(w, http.StatusTooManyRequests, model.ErrorResponse{
					Error: model.ErrorDetail{
						Message: "rate limit exceeded",
						Type:    "rate_limit_error",
						Code:    http.StatusTooManyRequests,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr
// from X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, body model.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
