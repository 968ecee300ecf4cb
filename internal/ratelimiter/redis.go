package ratelimiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// allowScript increments the window counter and starts the window expiry on
// the first hit, atomically.
var allowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisFixedWindowLimiter shares the window across replicas. When Redis is
// unreachable requests are allowed.
type RedisFixedWindowLimiter struct {
	client  redis.Scripter
	limit   int
	window  time.Duration
	prefix  string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewRedisFixedWindowLimiter(client redis.Scripter, limit int, w time.Duration, prefix string, logger *zap.SugaredLogger) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{
		client:  client,
		limit:   limit,
		window:  w,
		prefix:  prefix,
		timeout: 200 * time.Millisecond,
		logger:  logger,
	}
}

func (rl *RedisFixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	res, err := allowScript.Run(ctx, rl.client, []string{rl.prefix + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.logger.Warnw("rate limiter redis unavailable, allowing request", "key", key, "error", err)
		return true, 0
	}

	count, ttl := res[0], res[1]
	if count <= int64(rl.limit) {
		return true, 0
	}
	if ttl < 0 {
		ttl = rl.window.Milliseconds()
	}
	return false, time.Duration(ttl) * time.Millisecond
}

func (rl *RedisFixedWindowLimiter) Limit() int { return rl.limit }
