// Package httptransport is the thin HTTP layer over the sync engine. It
// delegates to the orchestrator and confirmation services without embedding
// sync logic, so transport concerns stay isolated.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"charlog/internal/platform/metrics"
)

// NewRouter wires all endpoints. Sync mutations sit behind admin auth;
// health and metrics stay open for probes and scrapers.
func NewRouter(h *Handler, auth func(http.Handler) http.Handler, opts ...RouterOption) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	for _, opt := range opts {
		opt(r)
	}

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		r.Post("/sync/all", h.HandleSyncAll)
		r.Post("/sync/retry", h.HandleRetryFailed)
		r.Post("/sync/{kind}", h.HandleSyncKind)
		r.Get("/sync/summary", h.HandleSyncSummary)
		r.Get("/entities/{kind}/{id}/identities", h.HandleListIdentities)
	})

	return r
}

// RouterOption attaches optional router-wide middleware.
type RouterOption func(chi.Router)

// WithHTTPMetrics records request counts and latency per route.
func WithHTTPMetrics(m *metrics.HTTP) RouterOption {
	return func(r chi.Router) {
		if m != nil {
			r.Use(m.Middleware)
		}
	}
}
