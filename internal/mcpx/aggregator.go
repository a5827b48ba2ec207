package mcpx

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/headers"
	"github.com/jrmatherly/nexus/internal/model"
)

// ToolSeparator joins a server name and a tool name into the gateway-wide
// tool namespace.
const ToolSeparator = "__"

// Aggregator owns one Downstream per configured server and the search
// index over their prefixed tools. Static aggregators hold the servers
// reachable with configuration-time credentials; dynamic aggregators hold
// the forwarding servers for one caller credential.
type Aggregator struct {
	mu      sync.RWMutex
	servers map[string]*Downstream
	tools   []*mcp.Tool // prefixed names
	index   *ToolIndex
}

// AggregatorOptions selects which servers an aggregator instantiates and
// carries construction-time context.
type AggregatorOptions struct {
	// Dynamic selects the forwarding servers instead of the static set.
	Dynamic bool
	// Credential is the caller's bearer token, required when Dynamic.
	Credential string
	// Inbound holds the triggering request's headers, visible to Forward
	// header rules. Empty for the static aggregator built at startup.
	Inbound http.Header
	// BaseRules are the gateway-wide mcp.headers rules.
	BaseRules headers.RuleSet
}

// NewAggregator connects the selected downstream servers. Servers that
// fail to connect or enumerate are logged and skipped; the aggregator is
// usable with the remainder. The second return value reports how many
// servers of the selected class were configured.
func NewAggregator(ctx context.Context, cfg *config.MCPConfig, opts AggregatorOptions) (*Aggregator, int) {
	a := &Aggregator{
		servers: make(map[string]*Downstream),
	}

	selected := 0
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		server := cfg.Servers[name]
		if server.ForwardsAuth() != opts.Dynamic {
			continue
		}
		selected++

		d, err := connectDownstream(ctx, name, &server, connectOptions{
			credential: opts.Credential,
			inbound:    opts.Inbound,
			baseRules:  opts.BaseRules,
			timeout:    cfg.DownstreamTimeout.Duration,
		})
		if err != nil {
			log.Printf("warn: skipping mcp server %s: %v", name, err)
			continue
		}
		a.servers[name] = d
	}

	a.rebuild()
	return a, selected
}

// rebuild recomputes the prefixed tool union and the search index. It runs
// once, at construction; a downstream that reconnects is not re-indexed.
func (a *Aggregator) rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var tools []*mcp.Tool
	for name, d := range a.servers {
		for _, t := range d.tools {
			prefixed := *t
			prefixed.Name = name + ToolSeparator + t.Name
			tools = append(tools, &prefixed)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	a.tools = tools
	a.index = NewToolIndex(tools)
}

// Tools returns the prefixed tool union.
func (a *Aggregator) Tools() []*mcp.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tools
}

// Search queries the aggregator's index.
func (a *Aggregator) Search(keywords []string, limit int) []SearchHit {
	a.mu.RLock()
	idx := a.index
	a.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.Search(keywords, limit)
}

// SplitToolName splits a prefixed tool name at the first separator.
func SplitToolName(prefixed string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(prefixed, ToolSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// ExecuteTool dispatches a prefixed tool call to its downstream.
func (a *Aggregator) ExecuteTool(ctx context.Context, prefixed string, arguments map[string]any) (*mcp.CallToolResult, error) {
	server, tool, ok := SplitToolName(prefixed)
	if !ok {
		return nil, fmt.Errorf("%w: tool name %q is missing the server prefix", model.ErrInvalidRequest, prefixed)
	}

	a.mu.RLock()
	d, found := a.servers[server]
	a.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("tool not found: %s", prefixed)
	}

	return d.CallTool(ctx, tool, arguments)
}

// HasServer reports whether the aggregator holds the named downstream.
func (a *Aggregator) HasServer(server string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.servers[server]
	return ok
}

// Prompts returns the prefixed prompt union.
func (a *Aggregator) Prompts() []*mcp.Prompt {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var prompts []*mcp.Prompt
	for name, d := range a.servers {
		for _, p := range d.prompts {
			prefixed := *p
			prefixed.Name = name + ToolSeparator + p.Name
			prompts = append(prompts, &prefixed)
		}
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// GetPrompt dispatches a prefixed prompt fetch to its downstream.
func (a *Aggregator) GetPrompt(ctx context.Context, prefixed string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	server, prompt, ok := SplitToolName(prefixed)
	if !ok {
		return nil, fmt.Errorf("%w: prompt name %q is missing the server prefix", model.ErrInvalidRequest, prefixed)
	}

	a.mu.RLock()
	d, found := a.servers[server]
	a.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("prompt not found: %s", prefixed)
	}

	return d.GetPrompt(ctx, prompt, arguments)
}

// Resources returns the resource union. Resource URIs are globally unique
// already; names are prefixed like tools for consistent display.
func (a *Aggregator) Resources() []*mcp.Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var resources []*mcp.Resource
	for name, d := range a.servers {
		for _, r := range d.resources {
			prefixed := *r
			prefixed.Name = name + ToolSeparator + r.Name
			resources = append(resources, &prefixed)
		}
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// ReadResource dispatches a resource read to whichever downstream listed
// the URI.
func (a *Aggregator) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	a.mu.RLock()
	var owner *Downstream
	for _, d := range a.servers {
		for _, r := range d.resources {
			if r.URI == uri {
				owner = d
				break
			}
		}
		if owner != nil {
			break
		}
	}
	a.mu.RUnlock()

	if owner == nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return owner.ReadResource(ctx, uri)
}

// Close releases every downstream, terminating subprocesses and sockets.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.servers {
		d.Close()
	}
	a.servers = map[string]*Downstream{}
}

// ServerCount returns the number of connected downstreams.
func (a *Aggregator) ServerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.servers)
}
