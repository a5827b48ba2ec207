package mcpx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jrmatherly/nexus/internal/config"
)

const defaultDynamicTTL = 10 * time.Minute

// DynamicCache holds one dynamic Aggregator per caller credential. Bound
// and TTL are configurable; eviction closes the aggregator and everything
// it owns.
type DynamicCache struct {
	lru *expirable.LRU[string, *Aggregator]
	cfg *config.MCPConfig
}

// NewDynamicCache creates the per-credential aggregator cache.
func NewDynamicCache(cfg *config.MCPConfig) *DynamicCache {
	ttl := cfg.DynamicCacheTTL.OrDefault(defaultDynamicTTL)
	c := &DynamicCache{cfg: cfg}
	c.lru = expirable.NewLRU(cfg.DynamicCacheSize, func(key string, agg *Aggregator) {
		log.Printf("closing dynamic mcp aggregator (fingerprint %.8s)", key)
		agg.Close()
	}, ttl)
	return c
}

// fingerprint hashes a credential so raw tokens never become map keys or
// appear in logs.
func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Get returns the dynamic aggregator for the credential, constructing one
// on a miss. Two different credentials always yield distinct aggregators;
// the same credential reuses one until eviction.
func (c *DynamicCache) Get(ctx context.Context, credential string, opts AggregatorOptions) *Aggregator {
	key := fingerprint(credential)

	if agg, ok := c.lru.Get(key); ok {
		return agg
	}

	opts.Dynamic = true
	opts.Credential = credential
	agg, _ := NewAggregator(ctx, c.cfg, opts)
	c.lru.Add(key, agg)
	return agg
}

// Purge evicts every cached aggregator, closing each.
func (c *DynamicCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live dynamic aggregators.
func (c *DynamicCache) Len() int {
	return c.lru.Len()
}
