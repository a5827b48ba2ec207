package config

import "time"

// Config is the root of the TOML configuration file.
type Config struct {
	Server ServerConfig `toml:"server"`
	MCP    MCPConfig    `toml:"mcp"`
	LLM    LLMConfig    `toml:"llm"`
}

type ServerConfig struct {
	ListenAddress        string                     `toml:"listen_address"`
	Health               HealthConfig               `toml:"health"`
	TLS                  *TLSServerConfig           `toml:"tls"`
	CORS                 *CORSConfig                `toml:"cors"`
	CSRF                 CSRFConfig                 `toml:"csrf"`
	OAuth                *OAuthConfig               `toml:"oauth"`
	ClientIdentification ClientIdentificationConfig `toml:"client_identification"`
	RateLimits           RateLimitsConfig           `toml:"rate_limits"`
}

type HealthConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
	Listen  string `toml:"listen"`
}

// IsEnabled reports whether the health endpoint is served. Defaults to on.
func (h *HealthConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type TLSServerConfig struct {
	Certificate string `toml:"certificate"`
	Key         string `toml:"key"`
}

type CORSConfig struct {
	AllowedOrigins   []string `toml:"allowed_origins"`
	AllowedMethods   []string `toml:"allowed_methods"`
	AllowedHeaders   []string `toml:"allowed_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           int      `toml:"max_age"`
}

type CSRFConfig struct {
	Enabled bool `toml:"enabled"`
}

type OAuthConfig struct {
	URL               string                   `toml:"url"`
	PollInterval      Duration                 `toml:"poll_interval"`
	ExpectedIssuer    string                   `toml:"expected_issuer"`
	ExpectedAudience  string                   `toml:"expected_audience"`
	ProtectedResource *ProtectedResourceConfig `toml:"protected_resource"`
}

type ProtectedResourceConfig struct {
	Resource             string   `toml:"resource"`
	AuthorizationServers []string `toml:"authorization_servers"`
}

type ClientIdentificationConfig struct {
	Enabled    bool            `toml:"enabled"`
	ClientID   IdentitySource  `toml:"client_id"`
	GroupID    *IdentitySource `toml:"group_id"`
	Validation GroupValidation `toml:"validation"`
}

// IdentitySource names where a client or group id comes from: a JWT claim
// or an HTTP header. Exactly one must be set.
type IdentitySource struct {
	JWTClaim   string `toml:"jwt_claim"`
	HTTPHeader string `toml:"http_header"`
}

type GroupValidation struct {
	GroupValues []string `toml:"group_values"`
}

type RateLimitsConfig struct {
	Enabled bool             `toml:"enabled"`
	Storage RateLimitStorage `toml:"storage"`
	Global  *RateLimitQuota  `toml:"global"`
	PerIP   *RateLimitQuota  `toml:"per_ip"`
}

type RateLimitStorage struct {
	Type            string    `toml:"type"` // "memory" or "redis"
	URL             string    `toml:"url"`
	KeyPrefix       string    `toml:"key_prefix"`
	Pool            RedisPool `toml:"pool"`
	TLS             *RedisTLS `toml:"tls"`
	ResponseTimeout Duration  `toml:"response_timeout"`
	ConnectTimeout  Duration  `toml:"connect_timeout"`
	// When true, request-count checks pass if the store is unreachable.
	// Token-count checks always fail closed.
	FailOpenRequests bool `toml:"fail_open_requests"`
}

type RedisPool struct {
	MaxSize int `toml:"max_size"`
}

type RedisTLS struct {
	Enabled            bool   `toml:"enabled"`
	CertificatePath    string `toml:"certificate_path"`
	KeyPath            string `toml:"key_path"`
	CAPath             string `toml:"ca_path"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type RateLimitQuota struct {
	Limit    uint32   `toml:"limit"`
	Interval Duration `toml:"interval"`
}

type MCPConfig struct {
	Enabled                 bool                 `toml:"enabled"`
	Path                    string               `toml:"path"`
	EnableStructuredContent bool                 `toml:"enable_structured_content"`
	Headers                 []HeaderRule         `toml:"headers"`
	Servers                 map[string]MCPServer `toml:"servers"`
	DynamicCacheSize        int                  `toml:"dynamic_cache_size"`
	DynamicCacheTTL         Duration             `toml:"dynamic_cache_ttl"`
	DownstreamTimeout       Duration             `toml:"downstream_timeout"`
}

type MCPServer struct {
	Cmd        []string             `toml:"cmd"`
	URL        string               `toml:"url"`
	Protocol   string               `toml:"protocol"` // "sse" or "streamable-http"; empty means auto
	MessageURL string               `toml:"message_url"`
	Env        map[string]string    `toml:"env"`
	Cwd        string               `toml:"cwd"`
	Stderr     string               `toml:"stderr"` // "null", "inherit", or a file path
	Auth       *MCPAuth             `toml:"auth"`
	TLS        *DownstreamTLS       `toml:"tls"`
	Headers    []HeaderRule         `toml:"headers"`
	RateLimits *MCPServerRateLimits `toml:"rate_limits"`
}

// IsStdio reports whether the server runs as a child process.
func (s *MCPServer) IsStdio() bool { return len(s.Cmd) > 0 }

// ForwardsAuth reports whether the server requires the caller's credential.
func (s *MCPServer) ForwardsAuth() bool {
	return s.Auth != nil && s.Auth.Type == "forward"
}

type MCPAuth struct {
	Token string `toml:"token"`
	Type  string `toml:"type"` // "forward" for caller-credential forwarding
}

type DownstreamTLS struct {
	CertificatePath    string `toml:"certificate_path"`
	KeyPath            string `toml:"key_path"`
	CAPath             string `toml:"ca_path"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type MCPServerRateLimits struct {
	Limit    uint32                    `toml:"limit"`
	Interval Duration                  `toml:"interval"`
	Tools    map[string]RateLimitQuota `toml:"tools"`
}

// HeaderRule is a tagged header transformation. Exactly one of the four
// variants is set.
type HeaderRule struct {
	Insert          *HeaderInsert          `toml:"insert"`
	Remove          *HeaderRemove          `toml:"remove"`
	Forward         *HeaderForward         `toml:"forward"`
	RenameDuplicate *HeaderRenameDuplicate `toml:"rename_duplicate"`
}

type HeaderInsert struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type HeaderRemove struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

type HeaderForward struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
	Default string `toml:"default"`
	Rename  string `toml:"rename"`
}

type HeaderRenameDuplicate struct {
	Name    string `toml:"name"`
	Rename  string `toml:"rename"`
	Default string `toml:"default"`
}

type LLMConfig struct {
	Enabled   bool                   `toml:"enabled"`
	Path      string                 `toml:"path"`
	Providers map[string]LLMProvider `toml:"providers"`
}

type LLMProvider struct {
	Type         string              `toml:"type"` // openai | anthropic | google | bedrock
	APIKey       string              `toml:"api_key"`
	BaseURL      string              `toml:"base_url"`
	ForwardToken bool                `toml:"forward_token"`
	Profile      string              `toml:"profile"` // bedrock: AWS shared-config profile
	Region       string              `toml:"region"`  // bedrock: AWS region
	Models       map[string]LLMModel `toml:"models"`
	Headers      []HeaderRule        `toml:"headers"`
	RateLimits   *TokenRateLimits    `toml:"rate_limits"`
}

type LLMModel struct {
	Rename     string           `toml:"rename"`
	Headers    []HeaderRule     `toml:"headers"`
	RateLimits *TokenRateLimits `toml:"rate_limits"`
}

type TokenRateLimits struct {
	PerUser *TokenQuota `toml:"per_user"`
}

type TokenQuota struct {
	InputTokenLimit uint32                `toml:"input_token_limit"`
	Interval        Duration              `toml:"interval"`
	Groups          map[string]TokenQuota `toml:"groups"`
}

// Duration wraps time.Duration with TOML string decoding ("60s", "10m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// OrDefault returns the wrapped duration, or def when unset.
func (d Duration) OrDefault(def time.Duration) time.Duration {
	if d.Duration == 0 {
		return def
	}
	return d.Duration
}
