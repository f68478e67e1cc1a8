package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/jobledger/internal/api/handler"
	mw "github.com/kiranshivaraju/jobledger/internal/api/middleware"
	"github.com/kiranshivaraju/jobledger/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Lifecycle handler.Lifecycle
	Database  handler.Pinger

	// Optional; nil disables rate limiting, HTTP metrics and the cache
	// health check respectively.
	RateLimit *mw.RateLimit
	Metrics   mw.HTTPRecorder
	Cache     handler.Pinger

	MetricsHandler http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(mw.Metrics(deps.Metrics))
	}

	// Public health check
	if deps.Database != nil {
		r.Get("/api/v1/health", handler.NewHealthHandler(deps.Database, deps.Cache))
	} else {
		r.Get("/api/v1/health", notImplemented)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		if deps.Lifecycle == nil {
			r.HandleFunc("/api/v1/*", notImplemented)
			return
		}
		svc := deps.Lifecycle

		r.Post("/api/v1/job-requests", handler.NewCreateJobRequestHandler(svc))

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", handler.NewCreateJobHandler(svc))
			r.Delete("/", handler.NewDeleteJobsHandler(svc))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", handler.NewGetJobHandler(svc))
				r.Get("/status", handler.NewGetJobStatusHandler(svc))
				r.Put("/status", handler.NewUpdateJobStatusHandler(svc))
				r.Put("/runtime", handler.NewBindRuntimeEnvironmentHandler(svc))
				r.Get("/request", handler.NewGetJobRequestHandler(svc))
				r.Get("/execution", handler.NewGetJobExecutionHandler(svc))
				r.Put("/execution/running", handler.NewSetRunningInformationHandler(svc))
				r.Put("/execution/completion", handler.NewSetCompletionInformationHandler(svc))
			})
		})
	})

	return r
}

// notImplemented is served for routes whose dependencies are not wired.
func notImplemented(w http.ResponseWriter, r *http.Request) {
	response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
}
