package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
)

// Manager resolves the limits that apply to a request and consults the
// store tier by tier: global, per-ip, per-server, per-server-tool,
// per-user token budgets. The first denied tier short-circuits; earlier
// consumptions are not rolled back since earlier tiers are the broadest.
type Manager struct {
	store    Store
	enabled  bool
	failOpen bool

	global *config.RateLimitQuota
	perIP  *config.RateLimitQuota

	mcpServers map[string]*config.MCPServerRateLimits
	providers  map[string]providerLimits
}

type providerLimits struct {
	perUser *config.TokenQuota
	models  map[string]*config.TokenQuota // raw model id → per-user quota
}

// NewManager builds a manager over the given store from the full config.
func NewManager(store Store, cfg *config.Config) *Manager {
	m := &Manager{
		store:      store,
		enabled:    cfg.Server.RateLimits.Enabled,
		failOpen:   cfg.Server.RateLimits.Storage.FailOpenRequests,
		global:     cfg.Server.RateLimits.Global,
		perIP:      cfg.Server.RateLimits.PerIP,
		mcpServers: make(map[string]*config.MCPServerRateLimits),
		providers:  make(map[string]providerLimits),
	}

	for name, server := range cfg.MCP.Servers {
		if server.RateLimits != nil {
			m.mcpServers[name] = server.RateLimits
		}
	}

	for name, provider := range cfg.LLM.Providers {
		pl := providerLimits{models: make(map[string]*config.TokenQuota)}
		if provider.RateLimits != nil {
			pl.perUser = provider.RateLimits.PerUser
		}
		for id, mdl := range provider.Models {
			if mdl.RateLimits != nil && mdl.RateLimits.PerUser != nil {
				pl.models[id] = mdl.RateLimits.PerUser
			}
		}
		m.providers[name] = pl
	}

	return m
}

// CheckRequest enforces the global and per-ip tiers for one HTTP request.
// Returns ErrRateLimitExceeded on a denied tier. Store failures follow the
// request-count policy: allowed when fail_open_requests is set, denied
// otherwise.
func (m *Manager) CheckRequest(ctx context.Context, ip string) error {
	if !m.enabled {
		return nil
	}
	if err := m.consumeRequest(ctx, globalKey(), m.global); err != nil {
		return err
	}
	if ip != "" {
		if err := m.consumeRequest(ctx, ipKey(ip), m.perIP); err != nil {
			return err
		}
	}
	return nil
}

// CheckToolCall enforces the per-server and per-server-tool tiers for an
// MCP tool execution.
func (m *Manager) CheckToolCall(ctx context.Context, server, tool string) error {
	if !m.enabled {
		return nil
	}
	limits, ok := m.mcpServers[server]
	if !ok {
		return nil
	}
	if limits.Limit > 0 {
		quota := &config.RateLimitQuota{Limit: limits.Limit, Interval: limits.Interval}
		if err := m.consumeRequest(ctx, serverKey(server), quota); err != nil {
			return err
		}
	}
	if toolQuota, ok := limits.Tools[tool]; ok && toolQuota.Limit > 0 {
		if err := m.consumeRequest(ctx, serverToolKey(server, tool), &toolQuota); err != nil {
			return err
		}
	}
	return nil
}

// CheckTokens enforces the per-user token budget for an LLM request. The
// applicable quota is resolved most specific first: model×user×group,
// model×user, provider×user×group, provider×user. The first defined quota
// wins; with none defined no token limit applies. Token checks fail closed
// on store errors.
func (m *Manager) CheckTokens(ctx context.Context, id model.ClientIdentity, provider, rawModel string, tokens uint32) error {
	pl, ok := m.providers[provider]
	if !ok {
		return nil
	}

	key, quota := resolveTokenQuota(pl, id, provider, rawModel)
	if quota == nil {
		return nil
	}

	allowed, err := m.store.CheckAndConsume(ctx, key, tokens, quota.InputTokenLimit, quota.Interval.OrDefault(time.Minute))
	if err != nil {
		log.Printf("rate limit store error (token check, fail closed): %v", err)
		return model.ErrRateLimitExceeded
	}
	if !allowed {
		return model.ErrRateLimitExceeded
	}
	return nil
}

func resolveTokenQuota(pl providerLimits, id model.ClientIdentity, provider, rawModel string) (string, *config.TokenQuota) {
	if modelQuota, ok := pl.models[rawModel]; ok {
		if id.GroupID != "" {
			if groupQuota, ok := modelQuota.Groups[id.GroupID]; ok {
				return modelUserGroupKey(provider, rawModel, id.ClientID, id.GroupID), &groupQuota
			}
		}
		return modelUserKey(provider, rawModel, id.ClientID), modelQuota
	}
	if pl.perUser != nil {
		if id.GroupID != "" {
			if groupQuota, ok := pl.perUser.Groups[id.GroupID]; ok {
				return providerUserGroupKey(provider, id.ClientID, id.GroupID), &groupQuota
			}
		}
		return providerUserKey(provider, id.ClientID), pl.perUser
	}
	return "", nil
}

func (m *Manager) consumeRequest(ctx context.Context, key string, quota *config.RateLimitQuota) error {
	if quota == nil || quota.Limit == 0 {
		return nil
	}
	allowed, err := m.store.CheckAndConsume(ctx, key, 1, quota.Limit, quota.Interval.OrDefault(time.Minute))
	if err != nil {
		if m.failOpen {
			log.Printf("rate limit store error (request check, fail open): %v", err)
			return nil
		}
		log.Printf("rate limit store error (request check, fail closed): %v", err)
		return model.ErrRateLimitExceeded
	}
	if !allowed {
		return model.ErrRateLimitExceeded
	}
	return nil
}
