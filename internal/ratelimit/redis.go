package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript runs the fixed-window decision server side. Records are hashes
// {count, reset} with reset in unix milliseconds; the key TTL is two windows,
// which matches the purge cutoff of reset < now - window.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')

if count == 0 or reset <= now then
	reset = now + window
	redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
	redis.call('PEXPIRE', KEYS[1], window * 2)
	return {1, 1, reset}
end

if count >= max then
	return {0, count, reset}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// RedisStore keeps counters in Redis. Expiry is handled by key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	values, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.MaxRequests).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply: %v", values)
	}

	return Result{
		Admitted:  values[0] == 1,
		Count:     int(values[1]),
		ResetTime: time.UnixMilli(values[2]).UTC(),
	}, nil
}

// PurgeExpired is a no-op; Redis drops records through their TTL.
func (s *RedisStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
