package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAnalyticsKey(t *testing.T) {
	id, err := primitive.ObjectIDFromHex("65f1a2b3c4d5e6f708091a2b")
	assert.NoError(t, err)
	assert.Equal(t, "promoter:analytics:65f1a2b3c4d5e6f708091a2b", analyticsKey(id))
}

func TestRedisAnalyticsCacheWithoutClient(t *testing.T) {
	c := NewRedisAnalyticsCache(nil, 0, quietLogger())
	assert.Equal(t, DefaultAnalyticsTTL, c.ttl)

	id := primitive.NewObjectID()
	ctx := context.Background()
	c.Set(ctx, id, &PromoterAnalytics{PromoterID: id})
	_, ok := c.Get(ctx, id)
	assert.False(t, ok)
	c.Invalidate(ctx, id)
}

func TestNopAnalyticsCache(t *testing.T) {
	var c AnalyticsCache = NopAnalyticsCache{}
	id := primitive.NewObjectID()
	c.Set(context.Background(), id, &PromoterAnalytics{})
	_, ok := c.Get(context.Background(), id)
	assert.False(t, ok)
}
