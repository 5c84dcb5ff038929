package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider is a Redis read-through cache in front of another Provider. Redis
// failures fall through to the wrapped provider; they never fail a lookup.
type CachedProvider struct {
	next   Provider
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCachedProvider(next Provider, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, prefix: "tenantpolicy", logger: logger}
}

func (c *CachedProvider) policyKey(tenantID string) string {
	return c.prefix + ":policy:" + tenantID
}

func (c *CachedProvider) featuresKey(tenantID string) string {
	return c.prefix + ":features:" + tenantID
}

func (c *CachedProvider) GetPolicy(ctx context.Context, tenantID string) (TenantPolicy, error) {
	raw, err := c.rdb.Get(ctx, c.policyKey(tenantID)).Bytes()
	if err == nil {
		var pol TenantPolicy
		if jsonErr := json.Unmarshal(raw, &pol); jsonErr == nil {
			return pol, nil
		}
		c.logger.Warn("discarding unreadable cached policy", "tenant_id", tenantID)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("policy cache read failed", "tenant_id", tenantID, "err", err)
	}

	pol, err := c.next.GetPolicy(ctx, tenantID)
	if err != nil {
		return TenantPolicy{}, err
	}
	if body, err := json.Marshal(pol); err == nil {
		if err := c.rdb.Set(ctx, c.policyKey(tenantID), body, c.ttl).Err(); err != nil {
			c.logger.Warn("policy cache write failed", "tenant_id", tenantID, "err", err)
		}
	}
	return pol, nil
}

func (c *CachedProvider) FeatureEnabled(ctx context.Context, tenantID, feature string) (bool, error) {
	v, err := c.rdb.HGet(ctx, c.featuresKey(tenantID), feature).Result()
	if err == nil {
		return v == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("feature cache read failed", "tenant_id", tenantID, "err", err)
	}

	enabled, err := c.next.FeatureEnabled(ctx, tenantID, feature)
	if err != nil {
		return false, err
	}
	val := "0"
	if enabled {
		val = "1"
	}
	key := c.featuresKey(tenantID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, feature, val)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("feature cache write failed", "tenant_id", tenantID, "err", err)
	}
	return enabled, nil
}

// Invalidate drops everything cached for a tenant.
func (c *CachedProvider) Invalidate(ctx context.Context, tenantID string) error {
	return c.rdb.Del(ctx, c.policyKey(tenantID), c.featuresKey(tenantID)).Err()
}
