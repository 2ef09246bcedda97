package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/cache"
	"github.com/aditya/campus-rides/internal/config"
	"github.com/aditya/campus-rides/internal/database"
	"github.com/aditya/campus-rides/internal/events"
	"github.com/aditya/campus-rides/internal/handler"
	"github.com/aditya/campus-rides/internal/logging"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/realtime"
	"github.com/aditya/campus-rides/internal/repository"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nrApp := newRelic(cfg, logger)
	if nrApp != nil {
		defer nrApp.Shutdown(10 * time.Second)
	}

	health := map[string]handler.HealthCheck{}

	// Ride and profile storage
	var (
		rideRepo repository.RideRepository
		userRepo repository.UserRepository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.NewPostgres(ctx, database.PostgresOptions{
			URL:          cfg.DatabaseURL,
			MaxOpenConns: cfg.DBMaxConnections,
			MaxIdleConns: cfg.DBMaxIdleConnections,
			Migrate:      cfg.Migrate,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		rideRepo = repository.NewRideRepository(db.DB)
		userRepo = repository.NewUserRepository(db.DB)
		health["database"] = db.Health
		logger.Info("using postgres store")
	default:
		rideRepo = repository.NewMemoryRideRepository()
		userRepo = repository.NewMemoryUserRepository()
		logger.Warn("using in-memory store, data is lost on restart")
	}

	// Change feed, presence and sessions: Redis when configured, in process otherwise.
	var (
		feed        realtime.Feed
		presence    cache.PresenceCache
		revoked     cache.RevocationList
		rateLimiter *middleware.RateLimiter
		idempotency *middleware.Idempotency
	)
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()

		redisFeed, err := realtime.NewRedisFeed(ctx, rdb.Client, realtime.DefaultChannel, logger)
		if err != nil {
			return err
		}
		feed = redisFeed
		presence = cache.NewPresenceCache(rdb.Client)
		revoked = cache.NewRevocationList(rdb.Client)
		rateLimiter = middleware.NewRateLimiter(rdb.Client, cfg.RateLimitPerMinute, time.Minute, logger)
		idempotency = middleware.NewIdempotency(rdb.Client, logger)
		health["redis"] = rdb.Health
		logger.Info("connected to redis")
	} else {
		feed = realtime.NewHub(logger)
		presence = cache.NewMemoryPresenceCache()
		revoked = cache.NewMemoryRevocationList()
		logger.Warn("redis not configured, running single instance")
	}
	defer feed.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing ride events", "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	rideStore := store.New(rideRepo, feed, logger)
	authService := auth.NewService(userRepo, revoked, auth.Config{
		Secret:            cfg.JWTSecret,
		FederatedSecret:   cfg.FederatedSecret,
		FederatedIssuer:   cfg.FederatedIssuer,
		FederatedAudience: cfg.FederatedAudience,
		TokenTTL:          cfg.JWTTTL,
	}, logger)
	rideService := service.NewRideService(rideStore, presence, publisher, logger)
	providerService := service.NewProviderService(userRepo, presence, logger)

	router := handler.NewRouter(handler.Deps{
		Logger:         logger,
		Auth:           authService,
		Rides:          rideService,
		Providers:      providerService,
		Store:          rideStore,
		NewRelic:       nrApp,
		RateLimiter:    rateLimiter,
		Idempotency:    idempotency,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.IsProduction(),
		Heartbeat:      cfg.SSEHeartbeat,
		Health:         health,
	})

	// No WriteTimeout: the SSE and WebSocket streams stay open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRelic(cfg *config.Config, logger *slog.Logger) *newrelic.Application {
	if !cfg.NewRelicEnabled {
		return nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelicAppName),
		newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		logger.Warn("failed to initialize new relic", "error", err)
		return nil
	}
	if err := app.WaitForConnection(10 * time.Second); err != nil {
		logger.Warn("new relic connection timeout", "error", err)
	}
	return app
}
