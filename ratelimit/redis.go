package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// fixedWindowScript returns {allowed, remaining, ttl_ms}. A rejected call does not increment.
var fixedWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = redis.call('GET', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if (not current) or ttl < 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, limit - 1, window}
end
current = tonumber(current)
if current >= limit then
  return {0, 0, ttl}
end
current = redis.call('INCR', KEYS[1])
return {1, limit - current, ttl}
`)

// RedisLimiter shares fixed-window counters across instances through Redis.
// Expired windows are purged by Redis key expiry, so no sweep is needed.
type RedisLimiter struct {
	client    redis.Scripter
	keyPrefix string
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisLimiter builds a limiter on top of an existing client.
func NewRedisLimiter(client redis.Scripter, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: "rl:",
		timeout:   500 * time.Millisecond,
		logger:    logger,
		now:       time.Now,
	}
}

// Check implements Limiter. Redis errors fail open.
func (r *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	limit, window = normalize(limit, window)
	now := r.now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vals, err := fixedWindowScript.Run(ctx, r.client, []string{r.keyPrefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 3 {
		r.logger.Warn("rate limit backend unavailable, failing open", zap.String("key", key), zap.Error(err))
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, ResetTime: now.Add(window)}
	}
	return Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: int(vals[1]),
		ResetTime: now.Add(time.Duration(vals[2]) * time.Millisecond),
	}
}
