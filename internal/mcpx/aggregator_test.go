package mcpx

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{"simple", "fs__read_file", "fs", "read_file", true},
		{"tool with underscore", "gh__create_issue", "gh", "create_issue", true},
		{"tool containing separator", "fs__read__nested", "fs", "read__nested", true},
		{"no separator", "read_file", "", "", false},
		{"empty server", "__tool", "", "", false},
		{"empty tool", "fs__", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := SplitToolName(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func testAggregator(servers map[string][]*mcp.Tool) *Aggregator {
	a := &Aggregator{servers: make(map[string]*Downstream)}
	for name, tools := range servers {
		a.servers[name] = &Downstream{name: name, tools: tools}
	}
	a.rebuild()
	return a
}

func TestAggregatorPrefixesTools(t *testing.T) {
	a := testAggregator(map[string][]*mcp.Tool{
		"fs": {makeTool("read_file", "Read a file", nil)},
		"gh": {makeTool("create_issue", "Create an issue", nil)},
	})

	tools := a.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "fs__read_file", tools[0].Name)
	assert.Equal(t, "gh__create_issue", tools[1].Name)
}

func TestAggregatorSearchReturnsPrefixedNames(t *testing.T) {
	a := testAggregator(map[string][]*mcp.Tool{
		"fs": {makeTool("read_file", "Read a file from disk", nil)},
	})

	hits := a.Search([]string{"read", "file"}, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "fs__read_file", hits[0].Tool.Name)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestAggregatorExecuteUnknownServer(t *testing.T) {
	a := testAggregator(map[string][]*mcp.Tool{
		"fs": {makeTool("read_file", "", nil)},
	})

	_, err := a.ExecuteTool(context.Background(), "nope__tool", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool not found")
}

func TestAggregatorExecuteMissingSeparator(t *testing.T) {
	a := testAggregator(nil)

	_, err := a.ExecuteTool(context.Background(), "read_file", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing the server prefix")
}

func TestViewJoinsStaticAndDynamic(t *testing.T) {
	static := testAggregator(map[string][]*mcp.Tool{
		"fs": {makeTool("read_file", "Read a file", nil)},
	})
	dynamic := testAggregator(map[string][]*mcp.Tool{
		"gh": {makeTool("read_pull", "Read a pull request", nil)},
	})

	view := &View{static: static, dynamic: dynamic}
	hits := view.Search([]string{"read"}, 10)
	require.Len(t, hits, 2)

	names := []string{hits[0].Tool.Name, hits[1].Tool.Name}
	assert.Contains(t, names, "fs__read_file")
	assert.Contains(t, names, "gh__read_pull")
}

func TestViewSearchLimitAfterMerge(t *testing.T) {
	static := testAggregator(map[string][]*mcp.Tool{
		"a": {makeTool("ping_one", "", nil), makeTool("ping_two", "", nil)},
	})
	dynamic := testAggregator(map[string][]*mcp.Tool{
		"b": {makeTool("ping_three", "", nil)},
	})

	view := &View{static: static, dynamic: dynamic}
	hits := view.Search([]string{"ping"}, 2)
	assert.Len(t, hits, 2)
}

func TestAggregatorPromptsPrefixed(t *testing.T) {
	a := &Aggregator{servers: map[string]*Downstream{
		"fs": {name: "fs", prompts: []*mcp.Prompt{{Name: "summarize"}}},
	}}

	prompts := a.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "fs__summarize", prompts[0].Name)
}

func TestAggregatorResourcesKeepURIs(t *testing.T) {
	a := &Aggregator{servers: map[string]*Downstream{
		"fs": {name: "fs", resources: []*mcp.Resource{{URI: "file:///etc/hosts", Name: "hosts"}}},
	}}

	resources := a.Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, "file:///etc/hosts", resources[0].URI)
	assert.Equal(t, "fs__hosts", resources[0].Name)
}
