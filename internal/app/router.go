package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentsites/agentsites/internal/observability"
	propagationhttp "github.com/agentsites/agentsites/internal/propagation/http"
	"github.com/agentsites/agentsites/internal/rbac"
	"github.com/agentsites/agentsites/internal/sites"
	"github.com/agentsites/agentsites/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Authenticate       func(http.Handler) http.Handler
	RBACMiddleware     rbac.Middleware
	SitesHandler       *sites.Handler
	RBACHandler        *rbac.Handler
	PropagationHandler *propagationhttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
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

	r.Group(func(r chi.Router) {
		if params.Authenticate != nil {
			r.Use(params.Authenticate)
		}
		if params.SitesHandler != nil {
			r.Route("/sites", func(r chi.Router) {
				params.SitesHandler.MountRoutes(r)
				if params.RBACHandler != nil {
					r.Route("/{"+rbac.SiteParam+"}/roles", params.RBACHandler.MountSiteRoutes)
				}
			})
		}
		if params.RBACHandler != nil {
			r.Route("/roles", params.RBACHandler.MountRoutes)
			r.Route("/users", params.RBACHandler.MountAuditRoutes)
		}
		if params.PropagationHandler != nil {
			r.Route("/propagation", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireUberAdmin())
				params.PropagationHandler.MountRoutes(r)
			})
			params.PropagationHandler.MountPushRoute(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireUberAdmin())
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
