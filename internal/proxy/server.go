// Package proxy assembles the HTTP surface: routes, middleware ordering,
// and the TLS listener.
package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jrmatherly/nexus/internal/auth"
	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/proxy/handler"
	"github.com/jrmatherly/nexus/internal/proxy/middleware"
	"github.com/jrmatherly/nexus/internal/ratelimit"
)

// ServerConfig holds everything NewServer wires together.
type ServerConfig struct {
	Config     *config.Config
	Handlers   *handler.Handlers
	MCPHandler http.Handler // nil when MCP is disabled
	Validator  *auth.Validator
	Limits     *ratelimit.Manager
}

// NewServer creates the chi router with all routes configured. Middleware
// runs outer to inner: CORS, CSRF, JWT auth, client identity, rate limit.
func NewServer(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	if c := cfg.Config.Server.CORS; c != nil {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   c.AllowedOrigins,
			AllowedMethods:   c.AllowedMethods,
			AllowedHeaders:   c.AllowedHeaders,
			AllowCredentials: c.AllowCredentials,
			MaxAge:           c.MaxAge,
		}))
	}
	r.Use(middleware.NewCSRFMiddleware(cfg.Config.Server.CSRF.Enabled))

	// Unauthenticated routes.
	if cfg.Config.Server.Health.IsEnabled() && cfg.Config.Server.Health.Listen == "" {
		r.Get(cfg.Config.Server.Health.Path, handler.Health)
	}
	if oauth := cfg.Config.Server.OAuth; oauth != nil {
		r.Get("/.well-known/oauth-protected-resource", auth.ProtectedResourceHandler(oauth.ProtectedResource))
	}

	r.Group(func(r chi.Router) {
		if cfg.Validator != nil {
			r.Use(middleware.NewAuthMiddleware(cfg.Validator))
		}
		r.Use(middleware.NewIdentityMiddleware(&cfg.Config.Server.ClientIdentification))
		r.Use(middleware.NewRateLimitMiddleware(cfg.Limits))

		if cfg.MCPHandler != nil {
			r.Mount(cfg.Config.MCP.Path, cfg.MCPHandler)
		}

		if cfg.Config.LLM.Enabled {
			r.Route(cfg.Config.LLM.Path+"/v1", func(r chi.Router) {
				r.Post("/chat/completions", cfg.Handlers.ChatCompletion)
				r.Get("/models", cfg.Handlers.ListModels)
			})
		}
	})

	return r
}

// NewHealthServer creates the standalone health listener used when
// server.health.listen is set.
func NewHealthServer(path string) http.Handler {
	r := chi.NewRouter()
	r.Get(path, handler.Health)
	return r
}
