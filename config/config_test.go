package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "MONGO_URI", "MONGODB_URI", "DB_NAME", "REDIS_ADDR", "JWT_SECRET",
		"APP_BASE_URL", "INVITATION_BONUS_AMOUNT", "INVITATION_TTL_DAYS", "ANALYTICS_CACHE_TTL",
		"FIREBASE_CREDENTIALS_BASE64", "GOOGLE_APPLICATION_CREDENTIALS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://db:27017/?replicaSet=rs0")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "barrim", cfg.DBName)
	assert.Equal(t, "https://barrim.com", cfg.AppBaseURL)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 60*time.Second, cfg.AnalyticsCacheTTL)
	assert.Equal(t, "50", cfg.InvitationBonus().String())
	assert.Equal(t, 30*24*time.Hour, cfg.InvitationTTL())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://fallback:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INVITATION_BONUS_AMOUNT", "75.50")
	t.Setenv("INVITATION_TTL_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mongodb://fallback:27017", cfg.MongoURI)
	assert.Equal(t, "75.5", cfg.InvitationBonus().String())
	assert.Equal(t, 7*24*time.Hour, cfg.InvitationTTL())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing mongo uri in production", map[string]string{"JWT_SECRET": "s"}},
		{"missing jwt secret in production", map[string]string{"MONGO_URI": "mongodb://db"}},
		{"negative bonus", map[string]string{"MONGO_URI": "mongodb://db", "JWT_SECRET": "s", "INVITATION_BONUS_AMOUNT": "-1"}},
		{"malformed bonus", map[string]string{"MONGO_URI": "mongodb://db", "JWT_SECRET": "s", "INVITATION_BONUS_AMOUNT": "fifty"}},
		{"zero ttl", map[string]string{"MONGO_URI": "mongodb://db", "JWT_SECRET": "s", "INVITATION_TTL_DAYS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDevelopmentFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, devMongoURI, cfg.MongoURI)
}

func TestMaskMongoURI(t *testing.T) {
	assert.Equal(t, "mongodb://admin:***@db:27017/?authSource=admin", maskMongoURI("mongodb://admin:hunter2@db:27017/?authSource=admin"))
	assert.Equal(t, "mongodb://db:27017", maskMongoURI("mongodb://db:27017"))
}

func TestOptionalServicesDisabledWithoutConfig(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, ConnectRedis(context.Background(), cfg))

	client, err := InitMessaging(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestAllowedOrigins(t *testing.T) {
	prod := &Config{
		Env:                "production",
		AppBaseURL:         "https://invite.barrim.com/landing/",
		CORSAllowedOrigins: "https://partners.example.org/, ,https://barrim.com",
	}
	origins := prod.AllowedOrigins()
	assert.Contains(t, origins, "https://www.barrim.online")
	assert.Contains(t, origins, "https://invite.barrim.com")
	assert.Contains(t, origins, "https://partners.example.org")
	assert.NotContains(t, origins, "http://localhost:3000")
	assert.NotContains(t, origins, "")

	seen := make(map[string]int)
	for _, o := range origins {
		seen[o]++
	}
	assert.Equal(t, 1, seen["https://barrim.com"])

	dev := &Config{Env: "development", AppBaseURL: "http://localhost:8080"}
	assert.Contains(t, dev.AllowedOrigins(), "http://localhost:3000")
}
