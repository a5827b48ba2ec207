package config

import (
	"fmt"
	"strings"
)

// reservedToolNames are the built-in tools exposed by the MCP handler.
// Server names may not start with them: built-ins are never prefixed, so a
// server called e.g. "searcher" could otherwise shadow them.
var reservedToolNames = []string{"search", "execute"}

// Validate rejects configurations that cannot produce a working gateway.
// Every returned error is startup-fatal.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateMCP(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLLM() error {
	if !c.LLM.Enabled {
		return nil
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.enabled is true but no providers are configured")
	}
	for name, p := range c.LLM.Providers {
		switch p.Type {
		case "openai", "anthropic", "google", "bedrock":
		default:
			return fmt.Errorf("llm.providers.%s: unknown type %q", name, p.Type)
		}
		if strings.Contains(name, "/") {
			return fmt.Errorf("llm.providers.%s: provider names may not contain '/'", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers.%s: at least one model must be configured", name)
		}
		if p.Type == "bedrock" {
			if len(p.Headers) > 0 {
				return fmt.Errorf("llm.providers.%s: header rules are not supported for bedrock", name)
			}
			if p.ForwardToken {
				return fmt.Errorf("llm.providers.%s: token forwarding is not supported for bedrock", name)
			}
			for id, m := range p.Models {
				if len(m.Headers) > 0 {
					return fmt.Errorf("llm.providers.%s.models.%s: header rules are not supported for bedrock", name, id)
				}
			}
		}
		// Renames must be unique so the effective id maps back to exactly
		// one raw upstream id.
		effective := make(map[string]string, len(p.Models))
		for id, m := range p.Models {
			eff := id
			if m.Rename != "" {
				eff = m.Rename
			}
			if prev, dup := effective[eff]; dup {
				return fmt.Errorf("llm.providers.%s: models %q and %q both expose id %q", name, prev, id, eff)
			}
			effective[eff] = id
		}
	}
	return nil
}

func (c *Config) validateMCP() error {
	if !c.MCP.Enabled {
		return nil
	}
	seen := make(map[string]string, len(c.MCP.Servers))
	for name, s := range c.MCP.Servers {
		if strings.Contains(name, "__") {
			return fmt.Errorf("mcp.servers.%s: server names may not contain '__'", name)
		}
		for _, reserved := range reservedToolNames {
			if strings.HasPrefix(name, reserved) {
				return fmt.Errorf("mcp.servers.%s: server names may not begin with built-in tool name %q", name, reserved)
			}
		}
		// TOML map keys are already unique; catch names that collide after
		// case folding, which would alias rate-limit buckets.
		folded := strings.ToLower(name)
		if prev, dup := seen[folded]; dup {
			return fmt.Errorf("mcp.servers: %q and %q collide", prev, name)
		}
		seen[folded] = name

		if s.IsStdio() && s.URL != "" {
			return fmt.Errorf("mcp.servers.%s: cmd and url are mutually exclusive", name)
		}
		if !s.IsStdio() && s.URL == "" {
			return fmt.Errorf("mcp.servers.%s: either cmd or url is required", name)
		}
		if s.Protocol != "" && s.Protocol != "sse" && s.Protocol != "streamable-http" {
			return fmt.Errorf("mcp.servers.%s: unknown protocol %q", name, s.Protocol)
		}
		if s.IsStdio() && len(s.Headers) > 0 {
			return fmt.Errorf("mcp.servers.%s: header rules do not apply to stdio transports", name)
		}
		if s.Auth != nil && s.Auth.Type != "" && s.Auth.Type != "forward" {
			return fmt.Errorf("mcp.servers.%s: unknown auth type %q", name, s.Auth.Type)
		}
		switch s.Stderr {
		case "", "null", "inherit":
		default:
			if !strings.HasPrefix(s.Stderr, "/") && !strings.HasPrefix(s.Stderr, "./") {
				return fmt.Errorf("mcp.servers.%s: stderr must be null, inherit, or a file path", name)
			}
		}
	}
	return nil
}

func (c *Config) validateIdentity() error {
	ci := c.Server.ClientIdentification
	if ci.Enabled {
		if ci.ClientID.JWTClaim == "" && ci.ClientID.HTTPHeader == "" {
			return fmt.Errorf("server.client_identification: client_id requires jwt_claim or http_header")
		}
		if ci.ClientID.JWTClaim != "" && ci.ClientID.HTTPHeader != "" {
			return fmt.Errorf("server.client_identification: client_id must use exactly one of jwt_claim or http_header")
		}
	}

	// Token rate limits meter per-user budgets; without an identity there is
	// no user to attribute tokens to.
	if c.hasTokenRateLimits() && !ci.Enabled {
		return fmt.Errorf("llm token rate limits require server.client_identification to be enabled")
	}
	return nil
}

func (c *Config) hasTokenRateLimits() bool {
	for _, p := range c.LLM.Providers {
		if p.RateLimits != nil && p.RateLimits.PerUser != nil {
			return true
		}
		for _, m := range p.Models {
			if m.RateLimits != nil && m.RateLimits.PerUser != nil {
				return true
			}
		}
	}
	return false
}

func (c *Config) validateRateLimits() error {
	rl := c.Server.RateLimits
	if !rl.Enabled {
		return nil
	}
	switch rl.Storage.Type {
	case "memory":
	case "redis":
		if rl.Storage.URL == "" {
			return fmt.Errorf("server.rate_limits.storage: redis storage requires url")
		}
	default:
		return fmt.Errorf("server.rate_limits.storage: unknown type %q", rl.Storage.Type)
	}
	if rl.Global != nil && rl.Global.Interval.Duration <= 0 {
		return fmt.Errorf("server.rate_limits.global: interval must be positive")
	}
	if rl.PerIP != nil && rl.PerIP.Interval.Duration <= 0 {
		return fmt.Errorf("server.rate_limits.per_ip: interval must be positive")
	}
	return nil
}
