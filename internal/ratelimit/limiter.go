package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter performs sliding-window rate limiting backed by Redis sorted sets.
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

// NewLimiter creates a new rate limiter. If rdb is nil, all checks pass (fail open).
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, prefix: "chat:rl:"}
}

// slidingWindowScript atomically drops expired entries, then admits the
// request if the window has room.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro)
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: {count, 1 allowed / 0 denied, score of the oldest entry}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1, 0}
end

redis.call('EXPIRE', key, ttl)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, 0, tonumber(oldest[2]) or now}
`)

// Check performs a sliding-window rate limit check. Redis failures fail open.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := time.Now()
	if l.rdb == nil {
		return LimitResult{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	ttlSecs := int64(window.Seconds()) + 1
	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.prefix + key},
		now.Add(-window).UnixMicro(), now.UnixMicro(), limit, ttlSecs,
	).Int64Slice()
	if err != nil || len(result) < 3 {
		return LimitResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, err
	}

	return evaluate(now, limit, window, result[0], result[1] == 1, result[2]), nil
}

// evaluate turns the script reply into a LimitResult. oldestMicro is the
// score of the oldest entry still in the window when the request was denied.
func evaluate(now time.Time, limit int64, window time.Duration, count int64, allowed bool, oldestMicro int64) LimitResult {
	res := LimitResult{
		Allowed:   allowed,
		Remaining: max(limit-count, 0),
		ResetAt:   now.Add(window),
	}
	if !allowed {
		freeAt := time.UnixMicro(oldestMicro).Add(window)
		res.ResetAt = freeAt
		res.RetryAfter = max(freeAt.Sub(now), time.Second)
	}
	return res
}
