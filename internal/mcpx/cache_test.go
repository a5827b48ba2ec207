package mcpx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/nexus/internal/config"
)

func emptyMCPConfig() *config.MCPConfig {
	return &config.MCPConfig{
		Enabled:          true,
		DynamicCacheSize: 4,
		Servers:          map[string]config.MCPServer{},
	}
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, fingerprint("abc"), fingerprint("abc"))
	assert.NotEqual(t, fingerprint("abc"), fingerprint("xyz"))
	assert.NotContains(t, fingerprint("super-secret-token"), "secret")
}

func TestDynamicCacheSameCredentialReuses(t *testing.T) {
	cache := NewDynamicCache(emptyMCPConfig())
	ctx := context.Background()

	first := cache.Get(ctx, "token-a", AggregatorOptions{})
	second := cache.Get(ctx, "token-a", AggregatorOptions{})
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestDynamicCacheDistinctCredentials(t *testing.T) {
	cache := NewDynamicCache(emptyMCPConfig())
	ctx := context.Background()

	a := cache.Get(ctx, "token-a", AggregatorOptions{})
	b := cache.Get(ctx, "token-b", AggregatorOptions{})
	require.NotSame(t, a, b)
	assert.Equal(t, 2, cache.Len())
}

func TestDynamicCacheEvictsAtCapacity(t *testing.T) {
	cache := NewDynamicCache(emptyMCPConfig())
	ctx := context.Background()

	for _, token := range []string{"t1", "t2", "t3", "t4", "t5"} {
		cache.Get(ctx, token, AggregatorOptions{})
	}
	assert.Equal(t, 4, cache.Len())
}

func TestDynamicCachePurge(t *testing.T) {
	cache := NewDynamicCache(emptyMCPConfig())
	ctx := context.Background()

	cache.Get(ctx, "t1", AggregatorOptions{})
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
