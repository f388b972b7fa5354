package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/podpilot/internal/api/middleware"
	"github.com/kiranshivaraju/podpilot/internal/api/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
// RateLimit may be nil, in which case pod mutations are not throttled.
type Dependencies struct {
	ProviderKey *mw.ProviderKey
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler http.HandlerFunc

	ListPodsHandler  http.HandlerFunc
	GetPodHandler    http.HandlerFunc
	CreatePodHandler http.HandlerFunc
	StopPodHandler   http.HandlerFunc
	DeletePodHandler http.HandlerFunc

	CreateSessionLogHandler http.HandlerFunc
	GetSessionLogHandler    http.HandlerFunc
	ListSessionLogsHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.CORS(deps.CORSOrigins))
	r.Use(mw.Logger)
	r.Use(mw.Metrics)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Handle("/metrics", promhttp.Handler())

	// Pod proxy: every route needs a provider key.
	r.Group(func(r chi.Router) {
		r.Use(deps.ProviderKey.Resolve)

		r.Get("/api/v1/pods", orNotImplemented(deps.ListPodsHandler))
		r.Get("/api/v1/pods/{podId}", orNotImplemented(deps.GetPodHandler))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/api/v1/pods", orNotImplemented(deps.CreatePodHandler))
			r.Post("/api/v1/pods/{podId}/stop", orNotImplemented(deps.StopPodHandler))
			r.Delete("/api/v1/pods/{podId}", orNotImplemented(deps.DeletePodHandler))
		})
	})

	r.Post("/api/v1/logs/training", orNotImplemented(deps.CreateSessionLogHandler))
	r.Get("/api/v1/logs/training", orNotImplemented(deps.ListSessionLogsHandler))
	r.Get("/api/v1/logs/training/{sessionId}", orNotImplemented(deps.GetSessionLogHandler))

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
