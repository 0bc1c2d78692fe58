package contextcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a contextprovider.Cache backed by go-redis, grounded on the
// teacher's registry package's direct *redis.Client field (registry.go),
// adapted here to store JSON-encoded retrieval artifacts under a namespaced
// key rather than stream/registry state.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis-backed cache. prefix namespaces keys (e.g.
// "kernel:ctxcache:"); ttl of zero means entries never expire.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get fetches and JSON-decodes the cached value for key.
func (r *Redis) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set JSON-encodes and stores value under key, with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), raw, r.ttl).Err()
}
