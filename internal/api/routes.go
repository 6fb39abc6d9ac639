package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cygnusb2b/fortnight-graph/internal/tracking"
)

// Deps are the handlers the router mounts. Nil members are skipped.
type Deps struct {
	Ads         AdFinder
	Tracking    *tracking.Handler
	Health      *HealthChecker
	Metrics     http.Handler
	CORSOrigins []string
}

// SetupRoutes configures the public delivery and tracking routes.
func SetupRoutes(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Placements are embedded on publisher pages, so any origin may call.
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	health := d.Health
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Ads != nil {
		r.Get("/placement/{file}", NewPlacementHandler(d.Ads).HandlePlacement)
	}
	if d.Tracking != nil {
		d.Tracking.Register(r)
	}
	return r
}
