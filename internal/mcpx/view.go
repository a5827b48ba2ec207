package mcpx

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// View joins the static aggregator with an optional dynamic one for a
// single request's listing and dispatch. Handlers borrow aggregators
// through views; they never own them.
type View struct {
	static  *Aggregator
	dynamic *Aggregator
}

func (v *View) aggregators() []*Aggregator {
	aggs := make([]*Aggregator, 0, 2)
	if v.static != nil {
		aggs = append(aggs, v.static)
	}
	if v.dynamic != nil {
		aggs = append(aggs, v.dynamic)
	}
	return aggs
}

// Search merges hits from both aggregators and re-ranks them. Server names
// are disjoint between the static and dynamic sets, so merged results
// cannot collide.
func (v *View) Search(keywords []string, limit int) []SearchHit {
	var hits []SearchHit
	for _, a := range v.aggregators() {
		hits = append(hits, a.Search(keywords, limit)...)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Tool.Name < hits[j].Tool.Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// ExecuteTool dispatches to whichever aggregator owns the server prefix.
func (v *View) ExecuteTool(ctx context.Context, prefixed string, arguments map[string]any) (*mcp.CallToolResult, error) {
	server, _, ok := SplitToolName(prefixed)
	if !ok {
		return v.static.ExecuteTool(ctx, prefixed, arguments) // surfaces the invalid-name error
	}
	for _, a := range v.aggregators() {
		if a.HasServer(server) {
			return a.ExecuteTool(ctx, prefixed, arguments)
		}
	}
	return nil, fmt.Errorf("tool not found: %s", prefixed)
}

// Prompts returns the prompt union across both aggregators.
func (v *View) Prompts() []*mcp.Prompt {
	var prompts []*mcp.Prompt
	for _, a := range v.aggregators() {
		prompts = append(prompts, a.Prompts()...)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// GetPrompt dispatches a prefixed prompt fetch.
func (v *View) GetPrompt(ctx context.Context, prefixed string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	server, _, ok := SplitToolName(prefixed)
	if ok {
		for _, a := range v.aggregators() {
			if a.HasServer(server) {
				return a.GetPrompt(ctx, prefixed, arguments)
			}
		}
	}
	return nil, fmt.Errorf("prompt not found: %s", prefixed)
}

// Resources returns the resource union across both aggregators.
func (v *View) Resources() []*mcp.Resource {
	var resources []*mcp.Resource
	for _, a := range v.aggregators() {
		resources = append(resources, a.Resources()...)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// ReadResource reads from whichever aggregator listed the URI.
func (v *View) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	for _, a := range v.aggregators() {
		if result, err := a.ReadResource(ctx, uri); err == nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("resource not found: %s", uri)
}
