package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
	"github.com/aditya/campus-rides/pkg/utils"
)

// HealthCheck reports whether one backing service is usable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the HTTP surface needs. Optional parts may be nil.
type Deps struct {
	Logger    *slog.Logger
	Auth      auth.Service
	Rides     service.RideService
	Providers service.ProviderService
	Store     store.RideStore

	NewRelic       *newrelic.Application
	RateLimiter    *middleware.RateLimiter
	Idempotency    *middleware.Idempotency
	AllowedOrigins []string
	SecureCookies  bool
	Heartbeat      time.Duration
	Health         map[string]HealthCheck
}

func NewRouter(d Deps) http.Handler {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewRelic(d.NewRelic))
	r.Use(middleware.NewAuthenticator(d.Auth, d.Logger).Authenticate)

	r.Get("/health", health(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	NewPageHandler().RegisterRoutes(r)

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Handler)
		}
		if d.Idempotency != nil {
			r.Use(d.Idempotency.Handler)
		}

		NewAuthHandler(d.Auth, d.SecureCookies, d.Logger).RegisterRoutes(r)
		NewDirectoryHandler(d.Providers, d.Logger).RegisterRoutes(r)
		NewRideHandler(d.Rides, d.Logger).RegisterRoutes(r)
		NewProviderHandler(d.Providers, d.Rides, d.Store, d.AllowedOrigins, d.Logger).RegisterRoutes(r)
		NewSSEHandler(d.Rides, d.Store, d.Heartbeat, d.Logger).RegisterRoutes(r)
	})

	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		status := http.StatusOK
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				services[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			services[name] = "up"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		utils.JSON(w, status, map[string]interface{}{"status": overall, "services": services})
	}
}
