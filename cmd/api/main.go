// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carterperez-dev/voiceagent-billing/internal/admin"
	"github.com/carterperez-dev/voiceagent-billing/internal/auth"
	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
	"github.com/carterperez-dev/voiceagent-billing/internal/config"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/internal/health"
	"github.com/carterperez-dev/voiceagent-billing/internal/middleware"
	"github.com/carterperez-dev/voiceagent-billing/internal/server"
	"github.com/carterperez-dev/voiceagent-billing/internal/user"
	"github.com/carterperez-dev/voiceagent-billing/migrations"
)

const (
	drainDelay = 5 * time.Second

	webhookPath = "/api/webhook/stripe"

	checkoutsPerHour = 10
	checkoutBurst    = 3

	credentialAttemptsPerMinute = 10
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	flushSentry, err := core.InitSentry(cfg.Sentry, cfg.App)
	if err != nil {
		return err
	}
	defer flushSentry()

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if cfg.Database.MigrateOnStart {
		version, migrateErr := core.Migrate(db.DB.DB, migrations.FS)
		if migrateErr != nil {
			return migrateErr
		}
		logger.Info("database migrated", "version", version)
	}

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	healthDeps := []health.Dependency{
		{Name: "database", Checker: db},
		{Name: "redis", Checker: redis},
	}

	var (
		broker    *core.Broker
		publisher billing.Publisher = billing.NoopPublisher{}
	)
	if cfg.Broker.Enabled {
		broker, err = core.NewBroker(ctx, cfg.Broker)
		if err != nil {
			return err
		}
		publisher = broker
		healthDeps = append(healthDeps, health.Dependency{Name: "broker", Checker: broker})
		logger.Info("broker connected", "exchange", cfg.Broker.Exchange)
	}

	jwtManager, err := auth.NewJWTManager(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", jwtManager.KeyID(),
	)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo)

	authRepo := auth.NewRepository(db.DB)
	authSvc := auth.NewService(authRepo, jwtManager, userSvc, redis.Client)
	authHandler := auth.NewHandler(authSvc)

	billingRepo := billing.NewRepository(db.DB)
	stripeProvider := billing.NewStripeProvider(cfg.Stripe.SecretKey)
	billingSvc := billing.NewService(billing.ServiceConfig{
		Repo:        billingRepo,
		Accounts:    userSvc,
		Provider:    stripeProvider,
		Catalog:     billing.NewCatalog(cfg.Stripe.Plans),
		Locker:      redis,
		FrontendURL: cfg.App.FrontendURL,
		Logger:      logger,
	})
	webhooks := billing.NewWebhookProcessor(billing.WebhookConfig{
		Repo:      billingRepo,
		Accounts:  userSvc,
		Provider:  stripeProvider,
		Publisher: publisher,
		Secret:    cfg.Stripe.WebhookSecret,
		Tolerance: cfg.Stripe.WebhookTolerance,
		Logger:    logger,
	})
	billingHandler := billing.NewHandler(billingSvc, webhooks)
	userHandler := user.NewHandler(userSvc, billingSvc)
	logger.Info("billing initialized",
		"plans", len(cfg.Stripe.Plans),
		"broker", cfg.Broker.Enabled,
	)

	healthHandler := health.NewHandler(healthDeps...)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		Checks:     healthHandler,
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		Billing:    billingSvc,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	if cfg.Metrics.Enabled {
		router.Use(middleware.Metrics)
	}
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerWindow(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
				cfg.RateLimit.Window,
			),
			BypassFunc: middleware.BypassPaths(webhookPath),
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	if cfg.Metrics.Enabled {
		router.Method(http.MethodGet, cfg.Metrics.Path, promhttp.Handler())
	}

	router.Get("/.well-known/jwks.json", jwtManager.JWKSHandler())

	authenticator := middleware.Authenticator(authSvc)
	adminOnly := middleware.RequireAdmin
	checkoutLimit := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Scope:   "checkout",
		Limit:   middleware.PerWindow(checkoutsPerHour, checkoutBurst, time.Hour),
		KeyFunc: middleware.KeyByUser,
	}).Handler
	credentialLimit := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Scope: "auth",
		Limit: middleware.PerWindow(credentialAttemptsPerMinute, credentialAttemptsPerMinute, time.Minute),
	}).Handler

	router.Route("/api", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator, credentialLimit)
		billingHandler.RegisterRoutes(r, authenticator, checkoutLimit)

		userHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterAdminRoutes(r, authenticator, adminOnly)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Error("broker close error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
