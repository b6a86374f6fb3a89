package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/clock"
)

// Limiter keeps sliding windows of hits per key.
type Limiter interface {
	// CheckLimit records a hit under key unless limit hits already fall in
	// the window.
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
	// Count reports the hits currently in the window without adding one.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Reset forgets every hit under key.
	Reset(ctx context.Context, key string) error
}

const redisLimiterPrefix = "ratelimit:"

// Scores are unix milliseconds; members carry a sequence so that hits in
// the same millisecond stay distinct.
var (
	hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest >= 2 then
        return {0, tonumber(oldest[2]) + window}
    end
    return {0, now + window}
end

local seq = redis.call('INCR', key .. ':seq')
redis.call('PEXPIRE', key .. ':seq', window)
redis.call('ZADD', key, now, now .. '-' .. seq)
redis.call('PEXPIRE', key, window)
return {1, now + window}
`)

	countScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
return redis.call('ZCARD', KEYS[1])
`)

	resetScript = redis.NewScript(`
return redis.call('DEL', KEYS[1], KEYS[1] .. ':seq')
`)
)

// RateLimiter is the Redis-backed Limiter shared by every server instance.
type RateLimiter struct {
	client redis.Scripter
	clock  clock.Clock
}

func NewRateLimiter(client redis.Scripter, c clock.Clock) *RateLimiter {
	if c == nil {
		c = clock.New()
	}
	return &RateLimiter{client: client, clock: c}
}

// CheckLimit fails closed: a Redis error denies the request.
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	now := rl.clock.Now()

	result, err := hitScript.Run(ctx, rl.client, []string{redisLimiterPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit,
	).Int64Slice()
	if err != nil || len(result) != 2 {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, denying request")
		return false, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}

func (rl *RateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := countScript.Run(ctx, rl.client, []string{redisLimiterPrefix + key},
		rl.clock.Now().UnixMilli(), window.Milliseconds(),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return resetScript.Run(ctx, rl.client, []string{redisLimiterPrefix + key}).Err()
}
