package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowScript increments the agent counter atomically.
// KEYS[1] = counter key (e.g. "aatp:ratelimit:agent-1")
// ARGV[1] = window length in milliseconds
// Returns {count, pttl_ms}.
var redisFixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares counters across router replicas through Redis.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "aatp:ratelimit:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ""), nil
}

func (s *RedisStore) IncrementAndCheck(ctx context.Context, agentID string, policy Policy) (Decision, error) {
	key := s.keyPrefix + agentID
	res, err := redisFixedWindowScript.Run(ctx, s.client, []string{key}, policy.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Decision{}, fmt.Errorf("invalid response from lua script")
	}
	count, _ := results[0].(int64)
	ttl, _ := results[1].(int64)

	d := Decision{Allowed: count <= int64(policy.Limit), Count: count}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttl) * time.Millisecond
	}
	return d, nil
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
