package mcpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/headers"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/ratelimit"
	"github.com/jrmatherly/nexus/internal/telemetry"
)

const serverVersion = "0.1.0"

// Built-in tool schemas. These are the only two tools tools/list returns;
// downstream tools are reachable through them.
var (
	searchInputSchema = mustParseSchema(`{
		"type": "object",
		"properties": {
			"keywords": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Keywords to match against tool names, descriptions, and parameters."
			}
		},
		"required": ["keywords"]
	}`)

	executeInputSchema = mustParseSchema(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Prefixed tool name as returned by search, e.g. filesystem__read_file."
			},
			"arguments": {
				"type": "object",
				"description": "Arguments passed through to the downstream tool."
			}
		},
		"required": ["name"]
	}`)
)

func mustParseSchema(raw string) *jsonschema.Schema {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		panic(err)
	}
	return &s
}

// Gateway is the MCP server role of the proxy: it joins the static
// aggregator with the caller's dynamic aggregator and exposes search and
// execute over them.
type Gateway struct {
	cfg       *config.MCPConfig
	static    *Aggregator
	dynamic   *DynamicCache
	limits    *ratelimit.Manager
	telemetry *telemetry.Recorder
	baseRules headers.RuleSet

	hasDynamic   bool
	staticServer *mcp.Server
}

// NewGateway connects the static downstream set and prepares the dynamic
// cache. Startup fails when MCP is enabled, servers are configured, and
// not a single one can serve.
func NewGateway(ctx context.Context, cfg *config.MCPConfig, limits *ratelimit.Manager, recorder *telemetry.Recorder) (*Gateway, error) {
	baseRules, err := headers.Compile(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("mcp.headers: %w", err)
	}

	g := &Gateway{
		cfg:       cfg,
		limits:    limits,
		telemetry: recorder,
		baseRules: baseRules,
	}

	for _, server := range cfg.Servers {
		if server.ForwardsAuth() {
			g.hasDynamic = true
			break
		}
	}

	static, selected := NewAggregator(ctx, cfg, AggregatorOptions{BaseRules: baseRules})
	g.static = static

	if selected > 0 && static.ServerCount() == 0 && !g.hasDynamic {
		return nil, fmt.Errorf("mcp: none of the %d configured servers initialized", selected)
	}

	g.dynamic = NewDynamicCache(cfg)
	g.staticServer = g.buildServer(&View{static: static})

	return g, nil
}

// Handler returns the streamable-HTTP handler for the configured MCP path.
// The response to a POST is either JSON or an SSE stream, per the
// transport negotiation the SDK performs.
func (g *Gateway) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return g.serverFor(r)
	}, nil)
}

// serverFor picks the MCP server instance for one request. Requests
// without a bearer token, or configs without forwarding servers, share the
// static server; forwarded credentials each get a per-credential server
// joined over the static and dynamic views.
func (g *Gateway) serverFor(r *http.Request) *mcp.Server {
	credential := bearerToken(r)
	if !g.hasDynamic || credential == "" {
		return g.staticServer
	}

	dynamic := g.dynamic.Get(r.Context(), credential, AggregatorOptions{
		Inbound:   r.Header,
		BaseRules: g.baseRules,
	})
	return g.buildServer(&View{static: g.static, dynamic: dynamic})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// searchResult is one entry returned by the search built-in.
type searchResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema any     `json:"input_schema,omitempty"`
	Score       float64 `json:"score"`
}

// buildServer assembles the MCP server over one aggregator view:
// exactly the two built-in tools, plus the view's prompts and resources.
func (g *Gateway) buildServer(view *View) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    clientName,
		Version: serverVersion,
	}, nil)

	server.AddTool(
		&mcp.Tool{
			Name:        "search",
			Description: "Search downstream tools by keyword. Returns ranked matches with their schemas; invoke them with execute.",
			InputSchema: searchInputSchema,
		},
		func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return g.handleSearch(view, req.Params.Arguments)
		},
	)

	server.AddTool(
		&mcp.Tool{
			Name:        "execute",
			Description: "Execute a downstream tool by its prefixed name with the given arguments.",
			InputSchema: executeInputSchema,
		},
		func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return g.handleExecute(ctx, view, req.Params.Arguments)
		},
	)

	for _, p := range view.Prompts() {
		prompt := p
		server.AddPrompt(prompt, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return view.GetPrompt(ctx, prompt.Name, req.Params.Arguments)
		})
	}

	for _, res := range view.Resources() {
		server.AddResource(res, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return view.ReadResource(ctx, req.Params.URI)
		})
	}

	return server
}

func (g *Gateway) handleSearch(view *View, rawArgs json.RawMessage) (*mcp.CallToolResult, error) {
	var args struct {
		Keywords []string `json:"keywords"`
	}
	if err := unmarshalArguments(rawArgs, &args); err != nil {
		return toolError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if len(args.Keywords) == 0 {
		return toolError("keywords must not be empty"), nil
	}

	hits := view.Search(args.Keywords, DefaultSearchLimit)
	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchResult{
			Name:        hit.Tool.Name,
			Description: hit.Tool.Description,
			InputSchema: hit.Tool.InputSchema,
			Score:       hit.Score,
		})
	}

	if g.cfg.EnableStructuredContent {
		return &mcp.CallToolResult{
			StructuredContent: map[string]any{"results": results},
		}, nil
	}

	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (g *Gateway) handleExecute(ctx context.Context, view *View, rawArgs json.RawMessage) (*mcp.CallToolResult, error) {
	var args struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := unmarshalArguments(rawArgs, &args); err != nil {
		return toolError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	server, tool, ok := SplitToolName(args.Name)
	if !ok {
		return toolError(fmt.Sprintf("invalid params: tool name %q is missing the server prefix", args.Name)), nil
	}

	if err := g.limits.CheckToolCall(ctx, server, tool); err != nil {
		g.telemetry.RecordToolCall(server, tool, "rate_limited", 0)
		// Surfaced in-band; the MCP error space reserves -32000 for this.
		return toolError("rate limit exceeded"), nil
	}

	start := time.Now()
	result, err := view.ExecuteTool(ctx, args.Name, args.Arguments)
	if err != nil {
		status := "error"
		if errors.Is(err, model.ErrInvalidRequest) {
			status = "invalid"
		}
		g.telemetry.RecordToolCall(server, tool, status, time.Since(start))
		log.Printf("warn: execute %s failed: %v", args.Name, err)
		return toolError(err.Error()), nil
	}

	g.telemetry.RecordToolCall(server, tool, "ok", time.Since(start))
	return result, nil
}

func unmarshalArguments(rawArgs json.RawMessage, out any) error {
	if rawArgs == nil {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(rawArgs, out)
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

// StaticServerCount reports how many static downstreams connected.
func (g *Gateway) StaticServerCount() int {
	return g.static.ServerCount()
}

// Close tears down the static aggregator and every cached dynamic one.
func (g *Gateway) Close() {
	g.dynamic.Purge()
	g.static.Close()
}
