package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// envPattern matches "{{ env.VAR_NAME }}" references in config values.
var envPattern = regexp.MustCompile(`\{\{\s*env\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Load reads a nexus.toml file, substitutes environment variables, decodes
// and validates it. Validation failure is a startup error: the caller exits
// nonzero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	substituted, err := SubstituteEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// SubstituteEnv replaces every {{ env.VAR }} reference with the value of the
// named environment variable. Referencing an unset variable is an error so
// that missing secrets fail startup instead of silently becoming empty.
func SubstituteEnv(input string) (string, error) {
	var missing []string
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variables referenced: %v", missing)
	}
	return out, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8000"
	}
	if cfg.Server.Health.Path == "" {
		cfg.Server.Health.Path = "/health"
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
	if cfg.LLM.Path == "" {
		cfg.LLM.Path = "/llm"
	}
	if cfg.MCP.DynamicCacheSize == 0 {
		cfg.MCP.DynamicCacheSize = 128
	}
	if cfg.Server.RateLimits.Storage.Type == "" {
		cfg.Server.RateLimits.Storage.Type = "memory"
	}
	if cfg.Server.RateLimits.Storage.KeyPrefix == "" {
		cfg.Server.RateLimits.Storage.KeyPrefix = "nexus:rate_limit:"
	}
}
