// Command nexus runs the AI routing gateway: an MCP aggregation server and
// an OpenAI-compatible LLM proxy behind a single HTTP endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrmatherly/nexus/internal/auth"
	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/mcpx"
	"github.com/jrmatherly/nexus/internal/proxy"
	"github.com/jrmatherly/nexus/internal/proxy/handler"
	"github.com/jrmatherly/nexus/internal/ratelimit"
	"github.com/jrmatherly/nexus/internal/router"
	"github.com/jrmatherly/nexus/internal/telemetry"
	"github.com/jrmatherly/nexus/internal/token"

	// Register all provider dialects via init()
	_ "github.com/jrmatherly/nexus/internal/provider/anthropic"
	_ "github.com/jrmatherly/nexus/internal/provider/bedrock"
	_ "github.com/jrmatherly/nexus/internal/provider/google"
	_ "github.com/jrmatherly/nexus/internal/provider/openai"
)

func main() {
	configPath := flag.String("config", "nexus.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := telemetry.NewRecorder()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	limits := ratelimit.NewManager(store, cfg)

	var handlers *handler.Handlers
	if cfg.LLM.Enabled {
		rt, err := router.New(&cfg.LLM, token.New(), limits, recorder)
		if err != nil {
			return err
		}
		handlers = &handler.Handlers{Router: rt}
	}

	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		gateway, err := mcpx.NewGateway(ctx, &cfg.MCP, limits, recorder)
		if err != nil {
			return err
		}
		defer gateway.Close()
		mcpHandler = gateway.Handler()
		log.Printf("mcp gateway listening on %s (%d static downstreams)",
			cfg.MCP.Path, gateway.StaticServerCount())
	}

	var validator *auth.Validator
	if cfg.Server.OAuth != nil && cfg.Server.OAuth.URL != "" {
		validator = auth.NewValidator(cfg.Server.OAuth)
	}

	mux := proxy.NewServer(proxy.ServerConfig{
		Config:     cfg,
		Handlers:   handlers,
		MCPHandler: mcpHandler,
		Validator:  validator,
		Limits:     limits,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: mux,
	}

	if cfg.Server.Health.IsEnabled() && cfg.Server.Health.Listen != "" {
		go serveHealth(ctx, cfg.Server.Health)
	}
	go serveMetrics(ctx, recorder)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("nexus listening on %s", cfg.Server.ListenAddress)
		if tlsCfg := cfg.Server.TLS; tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS(tlsCfg.Certificate, tlsCfg.Key)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("warn: shutdown: %v", err)
		}
	}

	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	storage := &cfg.Server.RateLimits.Storage
	if cfg.Server.RateLimits.Enabled && storage.Type == "redis" {
		store, err := ratelimit.NewRedisStore(ctx, storage)
		if err != nil {
			return nil, fmt.Errorf("rate limit storage: %w", err)
		}
		return store, nil
	}
	return ratelimit.NewMemoryStore(), nil
}

func serveHealth(ctx context.Context, cfg config.HealthConfig) {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: proxy.NewHealthServer(cfg.Path),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("health listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("warn: health server: %v", err)
	}
}

// serveMetrics exposes the Prometheus registry on its own listener. Set
// METRICS_PORT="" to disable.
func serveMetrics(ctx context.Context, recorder *telemetry.Recorder) {
	port, set := os.LookupEnv("METRICS_PORT")
	if set && port == "" {
		return
	}
	if port == "" {
		port = ":9090"
	}
	if port[0] != ':' {
		port = ":" + port
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())

	srv := &http.Server{
		Addr:         port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("warn: metrics server: %v", err)
	}
}
