package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window rate limiter shared by every instance through Redis.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
	key    KeyFunc
}

var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string, key KeyFunc) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	if key == nil {
		key = ClientIP
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix, key: key}
}

func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, err := rl.incr(r.Context(), rl.prefix+":"+rl.key(r))
			if err != nil {
				logger.Warn("redis rate limiter error", "err", err)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			remaining := int64(rl.limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if count > int64(rl.limit) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, error) {
	ms := rl.window.Milliseconds()
	if ms <= 0 {
		ms = int64(time.Minute / time.Millisecond)
	}
	res, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{key}, ms).Result()
	if err != nil {
		return 0, err
	}
	return scriptInt(res)
}

func scriptInt(res any) (int64, error) {
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
