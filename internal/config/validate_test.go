package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLLM() LLMConfig {
	return LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"ai": {
				Type:   "openai",
				APIKey: "sk-test",
				Models: map[string]LLMModel{"gpt-4": {}},
			},
		},
	}
}

func TestValidateLLMNoProviders(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Enabled: true}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers")
}

func TestValidateProviderWithoutModels(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"ai": {Type: "openai"},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one model must be configured")
}

func TestValidateUnknownProviderType(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"ai": {Type: "cohere", Models: map[string]LLMModel{"m": {}}},
		},
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidateBedrockRejectsHeaderRules(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"aws": {
				Type:    "bedrock",
				Models:  map[string]LLMModel{"anthropic.claude-3": {}},
				Headers: []HeaderRule{{Insert: &HeaderInsert{Name: "X-A", Value: "v"}}},
			},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header rules are not supported for bedrock")
}

func TestValidateBedrockRejectsModelHeaderRules(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"aws": {
				Type: "bedrock",
				Models: map[string]LLMModel{
					"anthropic.claude-3": {
						Headers: []HeaderRule{{Insert: &HeaderInsert{Name: "X-A", Value: "v"}}},
					},
				},
			},
		},
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidateBedrockRejectsForwardToken(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"aws": {
				Type:         "bedrock",
				ForwardToken: true,
				Models:       map[string]LLMModel{"m": {}},
			},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token forwarding")
}

func TestValidateDuplicateEffectiveIDs(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		Enabled: true,
		Providers: map[string]LLMProvider{
			"ai": {
				Type: "openai",
				Models: map[string]LLMModel{
					"gpt-4":  {Rename: "smart"},
					"gpt-4o": {Rename: "smart"},
				},
			},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"smart"`)
}

func TestValidateMCPServerNameWithSeparator(t *testing.T) {
	cfg := &Config{MCP: MCPConfig{
		Enabled: true,
		Servers: map[string]MCPServer{
			"bad__name": {Cmd: []string{"/bin/true"}},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'__'")
}

func TestValidateMCPServerReservedPrefix(t *testing.T) {
	for _, name := range []string{"search", "searcher", "execute", "executer"} {
		cfg := &Config{MCP: MCPConfig{
			Enabled: true,
			Servers: map[string]MCPServer{
				name: {Cmd: []string{"/bin/true"}},
			},
		}}
		assert.Error(t, cfg.Validate(), "server name %q", name)
	}
}

func TestValidateMCPServerCmdAndURLExclusive(t *testing.T) {
	cfg := &Config{MCP: MCPConfig{
		Enabled: true,
		Servers: map[string]MCPServer{
			"fs": {Cmd: []string{"/bin/true"}, URL: "https://example.com/mcp"},
		},
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidateMCPServerNeitherCmdNorURL(t *testing.T) {
	cfg := &Config{MCP: MCPConfig{
		Enabled: true,
		Servers: map[string]MCPServer{"fs": {}},
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidateMCPStdioHeaderRulesRejected(t *testing.T) {
	cfg := &Config{MCP: MCPConfig{
		Enabled: true,
		Servers: map[string]MCPServer{
			"fs": {
				Cmd:     []string{"/bin/true"},
				Headers: []HeaderRule{{Insert: &HeaderInsert{Name: "X-A", Value: "v"}}},
			},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdio")
}

func TestValidateTokenLimitsRequireIdentity(t *testing.T) {
	llm := validLLM()
	provider := llm.Providers["ai"]
	provider.RateLimits = &TokenRateLimits{
		PerUser: &TokenQuota{InputTokenLimit: 100},
	}
	llm.Providers["ai"] = provider

	cfg := &Config{LLM: llm}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_identification")

	cfg.Server.ClientIdentification = ClientIdentificationConfig{
		Enabled:  true,
		ClientID: IdentitySource{JWTClaim: "sub"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateIdentitySourceExactlyOne(t *testing.T) {
	cfg := &Config{Server: ServerConfig{
		ClientIdentification: ClientIdentificationConfig{
			Enabled: true,
			ClientID: IdentitySource{
				JWTClaim:   "sub",
				HTTPHeader: "X-Client-Id",
			},
		},
	}}
	assert.Error(t, cfg.Validate())

	cfg.Server.ClientIdentification.ClientID = IdentitySource{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRedisStorageRequiresURL(t *testing.T) {
	cfg := &Config{Server: ServerConfig{
		RateLimits: RateLimitsConfig{
			Enabled: true,
			Storage: RateLimitStorage{Type: "redis"},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestValidateHappyPath(t *testing.T) {
	cfg := &Config{
		LLM: validLLM(),
		MCP: MCPConfig{
			Enabled: true,
			Servers: map[string]MCPServer{
				"fs": {Cmd: []string{"/usr/local/bin/fs-server"}},
				"gh": {URL: "https://gh.example.com/mcp", Auth: &MCPAuth{Type: "forward"}},
			},
		},
	}
	assert.NoError(t, cfg.Validate())
}
