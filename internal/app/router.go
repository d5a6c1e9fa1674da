package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/stockline-erp/stockline/internal/catalog"
	"github.com/stockline-erp/stockline/internal/observability"
	"github.com/stockline-erp/stockline/internal/transfers"
	"github.com/stockline-erp/stockline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	AuthMiddleware   func(http.Handler) http.Handler
	TransfersHandler *transfers.Handler
	CatalogHandler   *catalog.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthMiddleware != nil {
			r.Use(params.AuthMiddleware)
		}
		if params.TransfersHandler != nil {
			r.Mount("/transfers", params.TransfersHandler.Routes())
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
	})

	return r
}
