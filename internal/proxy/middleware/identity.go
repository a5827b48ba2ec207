package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
)

// NewIdentityMiddleware extracts the caller identity from a JWT claim or an
// HTTP header per config and validates the group against the allow-list.
// When identification is enabled, requests without a resolvable client id
// are rejected: token budgets need someone to bill.
func NewIdentityMiddleware(cfg *config.ClientIdentificationConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := resolveValue(r, &cfg.ClientID)
			if clientID == "" {
				writeJSONError(w, http.StatusUnauthorized, model.ErrorResponse{
					Error: model.ErrorDetail{
						Message: "client identification is required",
						Type:    "authentication_error",
					},
				})
				return
			}

			identity := model.ClientIdentity{ClientID: clientID}
			if cfg.GroupID != nil {
				identity.GroupID = resolveValue(r, cfg.GroupID)
			}

			if identity.GroupID != "" && len(cfg.Validation.GroupValues) > 0 {
				if !slices.Contains(cfg.Validation.GroupValues, identity.GroupID) {
					writeJSONError(w, http.StatusForbidden, model.ErrorResponse{
						Error: model.ErrorDetail{
							Message: fmt.Sprintf("group %q is not allowed", identity.GroupID),
							Type:    "invalid_request_error",
						},
					})
					return
				}
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the extracted client identity, if any.
func IdentityFromContext(ctx context.Context) model.ClientIdentity {
	identity, _ := ctx.Value(ContextKeyIdentity).(model.ClientIdentity)
	return identity
}

func resolveValue(r *http.Request, source *config.IdentitySource) string {
	if source.HTTPHeader != "" {
		return r.Header.Get(source.HTTPHeader)
	}
	if source.JWTClaim != "" {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			if value, ok := claims[source.JWTClaim].(string); ok {
				return value
			}
		}
	}
	return ""
}
