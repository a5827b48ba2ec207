package middleware

import (
	"net/http"
	"net/url"

	"github.com/jrmatherly/nexus/internal/model"
)

// NewCSRFMiddleware rejects state-changing cross-origin requests whose
// Origin does not match the Host. Requests without an Origin header
// (non-browser clients) pass through.
func NewCSRFMiddleware(enabled bool) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			parsed, err := url.Parse(origin)
			if err != nil || parsed.Host != r.Host {
				writeJSONError(w, http.StatusForbidden, model.ErrorResponse{
					Error: model.ErrorDetail{
						Message: "cross-origin request rejected",
						Type:    "invalid_request_error",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
