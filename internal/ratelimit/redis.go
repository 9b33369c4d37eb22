package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// The bucket decision runs server-side so concurrent gateway instances
// share state without a distributed lock. The script reads Redis server
// time; gateway clocks never participate, so clock drift between nodes
// cannot be used to burst.
//
// Hash fields: tokens, last_refilled (seconds). last_refilled only moves
// when the refill actually added tokens. TTL = ceil(capacity/refillRate*2)
// seconds, or 60s when refillRate is 0.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])

local now = tonumber(redis.call("TIME")[1])

local bucket = redis.call("HMGET", key, "tokens", "last_refilled")
local tokens = tonumber(bucket[1])
local last_refilled = tonumber(bucket[2])

if tokens == nil then
  tokens = capacity
  last_refilled = now
else
  local delta = math.max(0, now - last_refilled)
  local refilled = math.min(capacity, tokens + delta * refill_rate)
  if refilled > tokens then
    last_refilled = now
  end
  tokens = refilled
end

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

local ttl = 60
if refill_rate > 0 then
  ttl = math.ceil(capacity / refill_rate * 2)
end

redis.call("HSET", key, "tokens", tokens, "last_refilled", last_refilled)
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(tokens)}
`

type RedisLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, capacity int64, refillRate float64, requested int) (Decision, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{key}, capacity, refillRate, requested).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	return Decision{
		Allowed:   toInt64(arr[0]) == 1,
		Remaining: toInt64(arr[1]),
	}, nil
}

func (l *RedisLimiter) Close() error { return l.rdb.Close() }

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
