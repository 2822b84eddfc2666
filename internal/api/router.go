package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/audience-sync/internal/metrics"
)

// RouterConfig carries everything NewRouter wires.
type RouterConfig struct {
	Handlers       *Handlers
	Health         *HealthChecker
	AllowedOrigins []string
	AdminToken     string
	CronSecret     string
}

// NewRouter builds the chi router.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(metrics.Middleware)

	origins := rc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Admin-User"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if rc.Health != nil {
		r.Get("/health", rc.Health.HandleHealth)
		r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/health/ready", rc.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	h := rc.Handlers
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireToken(rc.AdminToken, adminCookie))

			r.Route("/audiences", func(r chi.Router) {
				r.Get("/", h.HandleListAudiences)
				r.Post("/", h.HandleCreateAudience)
				r.Get("/lookalike", h.HandleListLookalikeSources)
				r.Post("/lookalike", h.HandleCreateLookalike)
				r.Get("/sync", h.HandleSyncOverview)
				r.Post("/sync", h.HandleManualSync)
				r.Get("/{audienceID}", h.HandleGetAudience)
				r.Put("/{audienceID}", h.HandleUpdateAudience)
				r.Delete("/{audienceID}", h.HandleDeleteAudience)
				r.Get("/{audienceID}/insights", h.HandleAudienceInsights)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireToken(rc.CronSecret, ""))
			r.Get("/cron/sync-audiences", h.HandleCronSync)
			r.Post("/cron/sync-audiences", h.HandleCronSync)
		})
	})

	return r
}
