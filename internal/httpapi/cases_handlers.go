package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"governor/internal/pending"
)

// handleListCases serves GET /cases.
func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	cases, err := s.cases.List(r.Context(), 0)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

// handleGetCase serves GET /cases/{case_id}.
func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	caseID := chi.URLParam(r, "case_id")
	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCaseRecommendations serves GET /cases/{case_id}/recommendations:
// the still-open pending actions materialized for this case (the
// in-scope view of the external Nova recommendation generator's output,
// per spec.md §1's Non-goals — this service only ever reads what was
// already materialized, never generates recommendations itself).
func (s *Server) handleCaseRecommendations(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	caseID := chi.URLParam(r, "case_id")
	rows, err := s.pendingLifecycle.ListByCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	open := make([]pending.PendingAction, 0, len(rows))
	for _, row := range rows {
		if row.Status == pending.StatusPending {
			open = append(open, row)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": open})
}

// handleCaseActions serves GET /cases/{case_id}/actions: the case's
// audit trail.
func (s *Server) handleCaseActions(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	caseID := chi.URLParam(r, "case_id")
	rows, err := s.auditStore.ByCase(r.Context(), caseID, 0)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": rows})
}

// handleCasePendingActions serves GET /cases/{case_id}/pending_actions.
func (s *Server) handleCasePendingActions(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	caseID := chi.URLParam(r, "case_id")
	rows, err := s.pendingLifecycle.ListByCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_actions": rows})
}
