package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/barrim_referrals/models"
)

const devMongoURI = "mongodb://localhost:27017/?replicaSet=rs0"

// Front ends that always talk to the API.
var defaultOrigins = []string{
	"https://barrim.online",
	"https://www.barrim.online",
	"https://barrim.com",
	"https://www.barrim.com",
}

// Local dashboards, allowed in development only.
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:8080",
}

// Config is the process configuration, read from the environment.
type Config struct {
	Env  string `env:"ENV,default=production"`
	Port string `env:"PORT,default=8080"`

	MongoURI string `env:"MONGO_URI"`
	DBName   string `env:"DB_NAME,default=barrim"`

	// An empty RedisAddr disables the analytics cache.
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB,default=0"`
	AnalyticsCacheTTL time.Duration `env:"ANALYTICS_CACHE_TTL,default=60s"`

	JWTSecret  string `env:"JWT_SECRET"`
	AppBaseURL string `env:"APP_BASE_URL,default=https://barrim.com"`

	SMTPHost string `env:"SMTP_HOST,default=mail.smtp2go.com"`
	SMTPPort int    `env:"SMTP_PORT,default=587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	SMTPFrom string `env:"SMTP_FROM,default=noreply@barrim.com"`

	FirebaseCredentialsBase64    string `env:"FIREBASE_CREDENTIALS_BASE64"`
	GoogleApplicationCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseProjectID            string `env:"FIREBASE_PROJECT_ID,default=barrim-93482"`

	// Comma-separated origins added to the defaults.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`

	InvitationBonusAmount string `env:"INVITATION_BONUS_AMOUNT,default=50.00"`
	InvitationTTLDays     int    `env:"INVITATION_TTL_DAYS,default=30"`

	invitationBonus models.Decimal
}

// Load reads an optional .env file, then decodes and checks the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, using process environment")
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("MONGODB_URI")
	}
	if cfg.MongoURI == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("MONGO_URI or MONGODB_URI environment variable is required for production")
		}
		cfg.MongoURI = devMongoURI
	}
	if cfg.JWTSecret == "" && !cfg.IsDevelopment() {
		return nil, errors.New("JWT_SECRET environment variable is required for production")
	}

	bonus, err := models.ParseDecimal(cfg.InvitationBonusAmount)
	if err != nil {
		return nil, fmt.Errorf("INVITATION_BONUS_AMOUNT: %w", err)
	}
	if !bonus.IsPositive() {
		return nil, fmt.Errorf("INVITATION_BONUS_AMOUNT must be positive, got %s", cfg.InvitationBonusAmount)
	}
	cfg.invitationBonus = bonus

	if cfg.InvitationTTLDays <= 0 {
		return nil, fmt.Errorf("INVITATION_TTL_DAYS must be positive, got %d", cfg.InvitationTTLDays)
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// InvitationBonus is the fixed commission credited per accepted invitation.
func (c *Config) InvitationBonus() models.Decimal {
	return c.invitationBonus
}

func (c *Config) InvitationTTL() time.Duration {
	return time.Duration(c.InvitationTTLDays) * 24 * time.Hour
}

// AllowedOrigins lists the browser origins CORS accepts: the Barrim front
// ends, the origin of APP_BASE_URL where share links land, the local
// dashboards in development and CORS_ALLOWED_ORIGINS. Duplicates are dropped.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	seen := make(map[string]bool)
	add := func(origin string) {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || seen[origin] {
			return
		}
		seen[origin] = true
		origins = append(origins, origin)
	}

	for _, o := range defaultOrigins {
		add(o)
	}
	if u, err := url.Parse(c.AppBaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		add(u.Scheme + "://" + u.Host)
	}
	if c.IsDevelopment() {
		for _, o := range devOrigins {
			add(o)
		}
	}
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		add(o)
	}
	return origins
}
