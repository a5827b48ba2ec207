package auth

import (
	"encoding/json"
	"net/http"

	"github.com/jrmatherly/nexus/internal/config"
)

// protectedResourceMetadata is the RFC 9728 document served at
// /.well-known/oauth-protected-resource.
type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// ProtectedResourceHandler serves the protected-resource metadata. Always
// unauthenticated.
func ProtectedResourceHandler(cfg *config.ProtectedResourceConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(protectedResourceMetadata{
			Resource:             cfg.Resource,
			AuthorizationServers: cfg.AuthorizationServers,
		})
	}
}
