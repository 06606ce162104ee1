package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var tokenBucketScript = redis.NewScript(`
local tokensKey = KEYS[1]
local lastKey   = KEYS[2]
local capacity  = tonumber(ARGV[1])
local fillRate  = tonumber(ARGV[2]) -- tokens per second
local now       = tonumber(ARGV[3]) -- milliseconds
local ttl       = tonumber(ARGV[4]) -- seconds

local tokens = tonumber(redis.call("GET", tokensKey))
local last   = tonumber(redis.call("GET", lastKey))

if not tokens or not last then
  tokens = capacity
  last = now
else
  local elapsed = math.max(0, now - last) / 1000
  tokens = math.min(capacity, tokens + elapsed * fillRate)
  last = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("SET", tokensKey, tokens, "EX", ttl)
redis.call("SET", lastKey, last, "EX", ttl)

return allowed
`)

// RedisRateLimiter is a distributed token bucket. It satisfies echo's
// middleware.RateLimiterStore so every API replica shares the buckets.
type RedisRateLimiter struct {
	Client   *redis.Client
	Capacity float64
	// tokens per second
	FillRate float64
	TTL      time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, capacity, fillRate float64) *RedisRateLimiter {
	ttl := time.Minute
	if fillRate > 0 {
		// long enough for an empty bucket to refill
		if full := time.Duration(capacity/fillRate*float64(time.Second)) * 2; full > ttl {
			ttl = full
		}
	}
	return &RedisRateLimiter{
		Client:   client,
		Capacity: capacity,
		FillRate: fillRate,
		TTL:      ttl,
		Timeout:  time.Second,
		Now:      time.Now,
	}
}

func (r *RedisRateLimiter) TokensKey(id string) string {
	return fmt.Sprintf("rate_limit:%s:tokens", id)
}

func (r *RedisRateLimiter) LastKey(id string) string {
	return fmt.Sprintf("rate_limit:%s:last", id)
}

func (r *RedisRateLimiter) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	return r.AllowRequest(ctx, identifier)
}

// AllowRequest takes one token from identifier's bucket if one is available.
func (r *RedisRateLimiter) AllowRequest(ctx context.Context, identifier string) (bool, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	ttl := int64(r.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	keys := []string{r.TokensKey(identifier), r.LastKey(identifier)}
	args := []interface{}{r.Capacity, r.FillRate, now().UnixMilli(), ttl}

	res, err := tokenBucketScript.Run(ctx, r.Client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	return res == 1, nil
}
