package config

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ConnectRedis returns a client for the analytics cache, or nil when Redis
// is not configured or unreachable. Callers treat nil as "no cache".
func ConnectRedis(ctx context.Context, cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		logrus.Info("REDIS_ADDR not set, analytics cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis connection failed, analytics cache disabled")
		_ = client.Close()
		return nil
	}

	logrus.WithField("addr", cfg.RedisAddr).Info("connected to Redis")
	return client
}
