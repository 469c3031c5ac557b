package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnalyticsCache keeps recently computed promoter dashboards. Failures are
// never surfaced; a miss just means recomputing.
type AnalyticsCache interface {
	Get(ctx context.Context, promoterID primitive.ObjectID) (*PromoterAnalytics, bool)
	Set(ctx context.Context, promoterID primitive.ObjectID, a *PromoterAnalytics)
	Invalidate(ctx context.Context, promoterID primitive.ObjectID)
}

// NopAnalyticsCache caches nothing.
type NopAnalyticsCache struct{}

func (NopAnalyticsCache) Get(context.Context, primitive.ObjectID) (*PromoterAnalytics, bool) {
	return nil, false
}
func (NopAnalyticsCache) Set(context.Context, primitive.ObjectID, *PromoterAnalytics) {}
func (NopAnalyticsCache) Invalidate(context.Context, primitive.ObjectID)              {}

// DefaultAnalyticsTTL bounds how stale a cached dashboard may be.
const DefaultAnalyticsTTL = 60 * time.Second

// RedisAnalyticsCache stores dashboards as JSON under
// promoter:analytics:<id>. A nil client disables caching.
type RedisAnalyticsCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewRedisAnalyticsCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisAnalyticsCache {
	if ttl <= 0 {
		ttl = DefaultAnalyticsTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisAnalyticsCache{client: client, ttl: ttl, log: logger.WithField("component", "analytics_cache")}
}

func analyticsKey(promoterID primitive.ObjectID) string {
	return "promoter:analytics:" + promoterID.Hex()
}

func (c *RedisAnalyticsCache) Get(ctx context.Context, promoterID primitive.ObjectID) (*PromoterAnalytics, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, analyticsKey(promoterID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("analytics cache read failed")
		}
		return nil, false
	}
	var a PromoterAnalytics
	if err := json.Unmarshal(raw, &a); err != nil {
		c.log.WithError(err).Warn("discarding unreadable analytics cache entry")
		c.Invalidate(ctx, promoterID)
		return nil, false
	}
	return &a, true
}

func (c *RedisAnalyticsCache) Set(ctx context.Context, promoterID primitive.ObjectID, a *PromoterAnalytics) {
	if c.client == nil || a == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		c.log.WithError(err).Warn("analytics cache encode failed")
		return
	}
	if err := c.client.Set(ctx, analyticsKey(promoterID), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("analytics cache write failed")
	}
}

func (c *RedisAnalyticsCache) Invalidate(ctx context.Context, promoterID primitive.ObjectID) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, analyticsKey(promoterID)).Err(); err != nil {
		c.log.WithError(err).Warn("analytics cache invalidation failed")
	}
}
