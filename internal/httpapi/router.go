package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the full chi route table per SPEC_FULL §C9, wrapped in
// the admission middleware chain: request-id -> recover -> CORS -> metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id", "Idempotency-Key", "If-Match", "X-Channel", "X-User-Id", "X-User-Role", "X-User-Groups", "X-User-Entitlements", "X-User-Email", "X-User-Name"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag", "X-Policy-Revision"},
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/governance/policy", func(r chi.Router) {
		r.Get("/", s.handleGetPolicy)
		r.Post("/validate", s.handleValidatePolicy)
		r.Patch("/", s.handlePatchPolicy)
	})
	r.Get("/governance/explain", s.handleExplain)

	r.Post("/actions/execute", s.handleExecuteAction)

	r.Route("/cases", func(r chi.Router) {
		r.Get("/", s.handleListCases)
		r.Get("/{case_id}", s.handleGetCase)
		r.Get("/{case_id}/recommendations", s.handleCaseRecommendations)
		r.Get("/{case_id}/actions", s.handleCaseActions)
		r.Get("/{case_id}/pending_actions", s.handleCasePendingActions)
	})

	r.Route("/pending_actions", func(r chi.Router) {
		r.Get("/", s.handleListPendingActions)
		r.Post("/", s.handleCreatePendingAction)
		r.Get("/{pending_id}", s.handleGetPendingAction)
		r.Patch("/{pending_id}/decision", s.handleDecidePendingAction)
		r.Post("/{pending_id}/execute", s.handleExecutePendingAction)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Get("/recent", s.handleAuditRecent)
		r.Get("/by_case/{case_id}", s.handleAuditByCase)
	})

	return r
}
