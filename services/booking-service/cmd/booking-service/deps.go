package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/libs/httpx"
	"github.com/md-rashed-zaman/tenantbook/libs/redisx"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/allocator"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/policy"
)

// openRedis returns nil when REDIS_ADDR is unset and nothing requires Redis.
func openRedis(ctx context.Context, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redisx.OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	if opts.Addr == "" {
		if config.String("ALLOCATOR_BACKEND", "postgres") == "redis" {
			return nil, fmt.Errorf("ALLOCATOR_BACKEND=redis requires REDIS_ADDR")
		}
		logger.Info("redis not configured; policy cache and shared rate limiting disabled")
		return nil, nil
	}
	return redisx.Open(ctx, opts)
}

func newAllocator(pool *db.Pool, rdb *redis.Client) (allocator.Allocator, error) {
	switch backend := config.String("ALLOCATOR_BACKEND", "postgres"); backend {
	case "postgres":
		return allocator.NewPostgres(pool), nil
	case "redis":
		a := allocator.NewRedis(rdb, config.String("ALLOCATOR_KEY_PREFIX", "slot"))
		retain, err := config.Duration("ALLOCATOR_KEY_RETAIN", a.Retain)
		if err != nil {
			return nil, err
		}
		a.Retain = retain
		return a, nil
	default:
		return nil, fmt.Errorf("ALLOCATOR_BACKEND must be postgres or redis (got %q)", backend)
	}
}

// newPolicyProvider returns the cache separately so the policy consumer can invalidate it.
func newPolicyProvider(pool *db.Pool, rdb *redis.Client, logger *slog.Logger) (policy.Provider, *policy.CachedProvider, error) {
	var base policy.Provider
	switch source := config.String("POLICY_SOURCE", "postgres"); source {
	case "postgres":
		base = policy.NewPostgresProvider(pool)
	case "file":
		path, err := config.RequiredString("POLICY_FILE")
		if err != nil {
			return nil, nil, err
		}
		p, err := policy.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		base = p
	default:
		return nil, nil, fmt.Errorf("POLICY_SOURCE must be postgres or file (got %q)", source)
	}

	ttl, err := config.Duration("POLICY_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil || ttl == 0 {
		return base, nil, nil
	}
	cache := policy.NewCachedProvider(base, rdb, ttl, logger)
	return cache, cache, nil
}

// newRateLimiter buckets by tenant and client IP. It is shared through Redis when
// available and per-process otherwise.
func newRateLimiter(rdb *redis.Client, logger *slog.Logger) (httpx.Middleware, error) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	key := httpx.PathValueKey("tenantID")
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "rl:booking", key).Middleware(logger, true), nil
	}
	return httpx.NewRateLimiter(limit, time.Minute, key).Middleware(), nil
}
