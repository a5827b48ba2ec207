// Package middleware holds the HTTP middleware chain: JWT auth, client
// identity extraction, CSRF origin checks, and request rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jrmatherly/nexus/internal/auth"
	"github.com/jrmatherly/nexus/internal/model"
)

type contextKey string

const (
	ContextKeyClaims   contextKey = "jwt_claims"
	ContextKeyIdentity contextKey = "client_identity"
)

// NewAuthMiddleware validates bearer JWTs on every route it wraps. Health
// and well-known routes are mounted outside of it.
func NewAuthMiddleware(validator *auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				authError(w, "missing bearer token")
				return
			}

			claims, err := validator.Validate(r.Context(), token)
			if err != nil {
				authError(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the validated JWT claims, if any.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(jwt.MapClaims)
	return claims, ok
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

func authError(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: message,
			Type:    "authentication_error",
		},
	})
}
