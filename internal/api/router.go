package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mamanambiya/federated-imputation/internal/api/middleware"
	"github.com/mamanambiya/federated-imputation/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJobHandler        http.HandlerFunc
	CreateBatchHandler      http.HandlerFunc
	ListJobsHandler         http.HandlerFunc
	GetJobHandler           http.HandlerFunc
	JobStatusUpdatesHandler http.HandlerFunc
	JobLogsHandler          http.HandlerFunc
	CancelJobHandler        http.HandlerFunc
	RetryJobHandler         http.HandlerFunc

	ListServicesHandler       http.HandlerFunc
	GetServiceHandler         http.HandlerFunc
	ListPanelsHandler         http.HandlerFunc
	DiscoverHandler           http.HandlerFunc
	ServiceHealthCheckHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Post("/api/v1/jobs/batch", orNotImplemented(deps.CreateBatchHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/status-updates", orNotImplemented(deps.JobStatusUpdatesHandler))
		r.Get("/api/v1/jobs/{jobID}/logs", orNotImplemented(deps.JobLogsHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJobHandler))

		// "discover" must register before the idOrSlug wildcard
		r.Get("/api/v1/services/discover", orNotImplemented(deps.DiscoverHandler))
		r.Get("/api/v1/services", orNotImplemented(deps.ListServicesHandler))
		r.Get("/api/v1/services/{idOrSlug}", orNotImplemented(deps.GetServiceHandler))
		r.Get("/api/v1/services/{idOrSlug}/panels", orNotImplemented(deps.ListPanelsHandler))
		r.Post("/api/v1/services/{idOrSlug}/health-check", orNotImplemented(deps.ServiceHealthCheckHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
