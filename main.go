package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/barrim_referrals/config"
	"github.com/HSouheill/barrim_referrals/controllers"
	"github.com/HSouheill/barrim_referrals/middleware"
	"github.com/HSouheill/barrim_referrals/repositories"
	"github.com/HSouheill/barrim_referrals/routes"
	"github.com/HSouheill/barrim_referrals/services"
	"github.com/HSouheill/barrim_referrals/utils"
	"github.com/HSouheill/barrim_referrals/websocket"
)

func main() {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.IsDevelopment() {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := config.ConnectDB(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("database unavailable")
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()
	if err := config.EnsureIndexes(ctx, client.Database(cfg.DBName)); err != nil {
		logger.WithError(err).Fatal("could not create indexes")
	}
	store := repositories.NewMongoStore(client, cfg.DBName)

	var cache services.AnalyticsCache = services.NopAnalyticsCache{}
	if rdb := config.ConnectRedis(ctx, cfg); rdb != nil {
		defer rdb.Close()
		cache = services.NewRedisAnalyticsCache(rdb, cfg.AnalyticsCacheTTL, logger)
	}

	referrals := services.NewReferralOrchestrator(services.ReferralDeps{
		Store:  store,
		Cache:  cache,
		Logger: logger,
	}, services.ReferralConfig{
		BaseURL:         cfg.AppBaseURL,
		InvitationBonus: cfg.InvitationBonus(),
		InvitationTTL:   cfg.InvitationTTL(),
	})

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	// Optional channels stay nil interfaces when unconfigured.
	var mailer services.Mailer
	if cfg.SMTPUser != "" {
		mailer = services.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_USER not set, invitation emails disabled")
	}
	var push services.PushSender
	if fcm, err := config.InitMessaging(ctx, cfg); err != nil {
		logger.WithError(err).Warn("push notifications disabled")
	} else if fcm != nil {
		push = services.NewFCMPushSender(fcm)
	}
	notifier := services.NewNotifier(store, mailer, push, hub, logger)

	e := echo.New()
	e.HideBanner = true
	e.Validator = utils.NewCustomValidator()

	rateLimiter := middleware.NewRateLimiter()
	defer rateLimiter.Stop()

	e.Use(echoMiddleware.RequestIDWithConfig(echoMiddleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.CORS(cfg.AllowedOrigins()))
	e.Use(echoMiddleware.Secure())
	e.Use(middleware.SecurityHeadersWithConfig(middleware.SecurityConfig{NoStore: true}))
	e.Use(rateLimiter.RateLimit())
	e.Use(middleware.RequireJSON())
	e.Use(httpsRedirect())

	routes.SetupRoutes(e, routes.Deps{
		JWTSecret:   cfg.JWTSecret,
		Promoters:   controllers.NewPromoterController(referrals, notifier, logger),
		Invitations: controllers.NewInvitationController(referrals, notifier, logger),
		Admin:       controllers.NewAdminController(referrals, logger),
		Hub:         hub,
		Health: func(c echo.Context) map[string]string {
			pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx, nil); err != nil {
				return map[string]string{"database": "unreachable"}
			}
			return map[string]string{"database": "connected"}
		},
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(http.StatusMovedPermanently, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}
