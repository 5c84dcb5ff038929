package allocator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GET + compare + INCR inside one script is atomic on the Redis server.
var acquireScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur >= tonumber(ARGV[1]) then
  return -1
end
local n = redis.call("INCR", KEYS[1])
if tonumber(ARGV[2]) > 0 then
  redis.call("EXPIREAT", KEYS[1], ARGV[2])
end
return n
`)

var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur <= 0 then
  return -1
end
return redis.call("DECR", KEYS[1])
`)

var countScript = redis.NewScript(`
return tonumber(redis.call("GET", KEYS[1]) or "0")
`)

// Redis keeps counters as plain integer keys. Keys expire Retain after their slot
// starts, once no booking can reference them any more.
type Redis struct {
	rdb    redis.Scripter
	prefix string
	Retain time.Duration
}

func NewRedis(rdb redis.Scripter, prefix string) *Redis {
	if prefix == "" {
		prefix = "slot"
	}
	return &Redis{rdb: rdb, prefix: prefix, Retain: 30 * 24 * time.Hour}
}

func (a *Redis) key(k Key) string {
	return fmt.Sprintf("%s:{%s}:%s:%d", a.prefix, k.TenantID, k.ResourceID, k.SlotStart.UTC().Unix())
}

func (a *Redis) Acquire(ctx context.Context, key Key, capacity int) (bool, error) {
	if capacity <= 0 {
		return false, nil
	}
	var expireAt int64
	if a.Retain > 0 {
		expireAt = key.SlotStart.Add(a.Retain).Unix()
	}
	n, err := runInt(ctx, acquireScript, a.rdb, a.key(key), capacity, expireAt)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *Redis) Release(ctx context.Context, key Key) (bool, error) {
	n, err := runInt(ctx, releaseScript, a.rdb, a.key(key))
	if err != nil {
		return false, err
	}
	return n >= 0, nil
}

func (a *Redis) Count(ctx context.Context, key Key) (int, error) {
	n, err := runInt(ctx, countScript, a.rdb, a.key(key))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func runInt(ctx context.Context, s *redis.Script, rdb redis.Scripter, key string, args ...any) (int64, error) {
	res, err := s.Run(ctx, rdb, []string{key}, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return -1, nil
		}
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
