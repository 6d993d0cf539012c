package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/llm-quota-router/app"
	"github.com/upb/llm-quota-router/handlers"
	"github.com/upb/llm-quota-router/middleware"
	"github.com/upb/llm-quota-router/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		r.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	if timeout := deps.Config.Server.WriteTimeout; timeout > 0 {
		r.Use(chimw.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var auditStats handlers.AuditStatsSource
	if deps.Audit != nil {
		auditStats = deps.Audit
	}

	health := handlers.NewHealthHandler(healthChecks(deps), deps.Quota, deps.Logger)
	route := handlers.NewRouteHandler(deps.Router, auditStats, deps.Logger)
	quotas := handlers.NewQuotaHandler(deps.Quota, deps.Providers, deps.Logger)
	costs := handlers.NewCostHandler(deps.Costs, deps.Logger)

	r.Get("/health", health.HandleHealth)
	r.Get("/ready", health.HandleReadiness)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/route", route.HandleRoute)
		r.Get("/routing/stats", route.HandleStats)

		r.Get("/quota", quotas.HandleQuotaReport)
		r.Get("/quota/{provider}", quotas.HandleProviderQuota)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", quotas.HandleListProviders)
			r.Get("/available", quotas.HandleAvailableProviders)
			r.Get("/best", quotas.HandleBestProvider)
		})

		r.Get("/costs", costs.HandleGetCosts)

		// Admin endpoints (require admin role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Post("/costs/reset", costs.HandleResetCosts)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func healthChecks(deps *app.Dependencies) map[string]handlers.Checker {
	checks := make(map[string]handlers.Checker)
	if deps.DB != nil {
		checks["database"] = deps.DB
	}
	if deps.RedisLedger != nil {
		checks["redis"] = deps.RedisLedger
	}
	return checks
}
