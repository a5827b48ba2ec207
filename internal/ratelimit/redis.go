package ratelimit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrmatherly/nexus/internal/config"
)

// slidingWindowScript reads both window counters, computes the weighted
// load, and increments atomically. A single round trip keeps the
// check-and-consume pair atomic across gateway instances.
//
// KEYS[1] = current window key, KEYS[2] = previous window key
// ARGV[1] = limit, ARGV[2] = cost, ARGV[3] = elapsed fraction of the
// current window scaled to 0..1000000, ARGV[4] = TTL seconds
const slidingWindowScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local previous = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
local fraction = tonumber(ARGV[3]) / 1000000

local effective = previous * (1 - fraction) + current
if effective + cost > limit then
    return 0
end

redis.call('INCRBY', KEYS[1], cost)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`

// Two script instances: one per counting concern. The bodies are identical,
// so both load under the same SHA and Redis sees them as one script.
var (
	requestCountScript = redis.NewScript(slidingWindowScript)
	tokenCountScript   = redis.NewScript(slidingWindowScript)
)

// RedisStore is the distributed sliding-window backend.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string

	now func() time.Time
}

// NewRedisStore connects to the configured Redis and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, cfg *config.RateLimitStorage) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Pool.MaxSize > 0 {
		opts.PoolSize = cfg.Pool.MaxSize
	}
	if d := cfg.ResponseTimeout.Duration; d > 0 {
		opts.ReadTimeout = d
		opts.WriteTimeout = d
	}
	if d := cfg.ConnectTimeout.Duration; d > 0 {
		opts.DialTimeout = d
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}, nil
}

func (s *RedisStore) CheckAndConsume(ctx context.Context, key string, cost uint32, limit uint32, interval time.Duration) (bool, error) {
	script := requestCountScript
	if cost > 1 {
		script = tokenCountScript
	}

	window, fraction := windowState(s.now(), interval)
	currentKey := fmt.Sprintf("%s%s__%d", s.keyPrefix, key, window)
	previousKey := fmt.Sprintf("%s%s__%d", s.keyPrefix, key, window-1)

	ttl := int64(2 * interval / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	result, err := script.Run(ctx, s.client,
		[]string{currentKey, previousKey},
		limit, cost, int64(fraction*1_000_000), ttl,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return result == 1, nil
}

func (s *RedisStore) Close() {
	_ = s.client.Close()
}

func buildTLSConfig(cfg *config.RedisTLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read redis ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis ca %s: no certificates found", cfg.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertificatePath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
