package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleAuditRecent serves GET /audit/recent.
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	rows, err := s.auditStore.Recent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": rows})
}

// handleAuditByCase serves GET /audit/by_case/{case_id}.
func (s *Server) handleAuditByCase(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	caseID := chi.URLParam(r, "case_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	rows, err := s.auditStore.ByCase(r.Context(), caseID, limit)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": rows})
}
