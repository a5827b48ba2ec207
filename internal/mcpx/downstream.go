// Package mcpx implements the MCP side of the gateway: downstream clients,
// the aggregator with server-prefixed tool names, the search index, the
// per-credential cache, and the MCP server handler exposing the built-in
// search and execute tools.
package mcpx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/headers"
)

const (
	clientName     = "nexus"
	clientVersion  = "0.1.0"
	defaultTimeout = 30 * time.Second
)

// Downstream is one connection to a downstream MCP server. The session
// (and any child process behind it) lives until Close.
type Downstream struct {
	name      string
	session   *mcp.ClientSession
	tools     []*mcp.Tool
	prompts   []*mcp.Prompt
	resources []*mcp.Resource
	timeout   time.Duration
}

// connectOptions carries per-construction inputs: the forwarded credential
// for dynamic servers and the inbound headers visible to Forward rules.
type connectOptions struct {
	credential string
	inbound    http.Header
	baseRules  headers.RuleSet
	timeout    time.Duration
}

// connectDownstream spawns or dials one downstream server and enumerates
// its tools, prompts, and resources.
func connectDownstream(ctx context.Context, name string, cfg *config.MCPServer, opts connectOptions) (*Downstream, error) {
	transport, err := buildTransport(name, cfg, opts)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		// URL servers without an explicit protocol try streamable-http
		// first, then fall back to SSE.
		if cfg.URL != "" && cfg.Protocol == "" {
			sseTransport, terr := buildURLTransport(name, cfg, opts, "sse")
			if terr != nil {
				return nil, err
			}
			session, terr = client.Connect(ctx, sseTransport, nil)
			if terr != nil {
				return nil, fmt.Errorf("connect %s: streamable-http: %v; sse: %w", name, err, terr)
			}
		} else {
			return nil, fmt.Errorf("connect %s: %w", name, err)
		}
	}

	d := &Downstream{
		name:    name,
		session: session,
		timeout: opts.timeout,
	}
	if d.timeout == 0 {
		d.timeout = defaultTimeout
	}

	if err := d.enumerate(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools from %s: %w", name, err)
	}

	return d, nil
}

func (d *Downstream) enumerate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	toolsRes, err := d.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	d.tools = toolsRes.Tools

	// Prompts and resources are optional capabilities; a downstream that
	// does not serve them is not an error.
	if promptsRes, err := d.session.ListPrompts(ctx, nil); err == nil {
		d.prompts = promptsRes.Prompts
	}
	if resourcesRes, err := d.session.ListResources(ctx, nil); err == nil {
		d.resources = resourcesRes.Resources
	}

	return nil
}

// CallTool invokes an unprefixed tool on this downstream.
func (d *Downstream) CallTool(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: arguments,
	})
}

// GetPrompt fetches an unprefixed prompt from this downstream.
func (d *Downstream) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: arguments,
	})
}

// ReadResource reads a resource URI from this downstream.
func (d *Downstream) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

// Close terminates the session. For stdio servers this tears down the
// child process: SIGTERM, then SIGKILL after the grace period.
func (d *Downstream) Close() {
	if err := d.session.Close(); err != nil {
		log.Printf("warn: closing downstream %s: %v", d.name, err)
	}
}

func buildTransport(name string, cfg *config.MCPServer, opts connectOptions) (mcp.Transport, error) {
	if cfg.IsStdio() {
		return buildStdioTransport(name, cfg)
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "streamable-http"
	}
	return buildURLTransport(name, cfg, opts, protocol)
}

func buildStdioTransport(name string, cfg *config.MCPServer) (mcp.Transport, error) {
	cmd := exec.Command(cfg.Cmd[0], cfg.Cmd[1:]...)
	cmd.Dir = cfg.Cwd

	env := os.Environ()
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	cmd.Env = env

	switch cfg.Stderr {
	case "", "null":
		// child stderr is dropped
	case "inherit":
		cmd.Stderr = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Stderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open stderr file for %s: %w", name, err)
		}
		cmd.Stderr = f
	}

	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildURLTransport(name string, cfg *config.MCPServer, opts connectOptions, protocol string) (mcp.Transport, error) {
	httpClient, err := buildHTTPClient(name, cfg, opts)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case "sse":
		if cfg.MessageURL != "" {
			// The SSE handshake advertises the message endpoint; a
			// configured override is accepted but unused.
			log.Printf("warn: mcp.servers.%s: message_url is ignored; the endpoint comes from the SSE handshake", name)
		}
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient,
		}, nil
	case "streamable-http":
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient,
		}, nil
	default:
		return nil, fmt.Errorf("mcp.servers.%s: unsupported protocol %q", name, protocol)
	}
}

func buildHTTPClient(name string, cfg *config.MCPServer, opts connectOptions) (*http.Client, error) {
	base := http.DefaultTransport

	if cfg.TLS != nil {
		tlsConfig, err := buildDownstreamTLS(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("mcp.servers.%s: %w", name, err)
		}
		base = &http.Transport{TLSClientConfig: tlsConfig}
	}

	serverRules, err := headers.Compile(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("mcp.servers.%s: %w", name, err)
	}

	bearer := ""
	if cfg.Auth != nil {
		switch {
		case cfg.Auth.Type == "forward":
			bearer = opts.credential
		case cfg.Auth.Token != "":
			bearer = cfg.Auth.Token
		}
	}

	return &http.Client{
		Transport: &headerRoundTripper{
			base:    base,
			rules:   append(append(headers.RuleSet{}, opts.baseRules...), serverRules...),
			inbound: opts.inbound,
			bearer:  bearer,
		},
	}, nil
}

func buildDownstreamTLS(cfg *config.DownstreamTLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca %s: no certificates found", cfg.CAPath)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.CertificatePath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// headerRoundTripper applies the compiled header rules and auth to every
// request the transport sends upstream.
type headerRoundTripper struct {
	base    http.RoundTripper
	rules   headers.RuleSet
	inbound http.Header
	bearer  string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	t.rules.Apply(out.Header, t.inbound)
	if t.bearer != "" {
		out.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(out)
}
