package httpapi

import (
	"net/http"
	"strconv"

	"governor/internal/policy"
)

// handleExplain serves GET /governance/explain: a hypothetical
// can_execute/can_approve check against query parameters, evaluated
// without recording an audit event or dispatching any action. Grounded
// on the teacher's cmd/auditd/governance_handlers.go handleExplain.
//
// Query parameters:
//
//	action_type       required
//	role              required
//	permission        optional  "execute" (default) | "approve"
//	risk_score        optional  integer case risk score
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	q := r.URL.Query()

	actionType := q.Get("action_type")
	role := q.Get("role")
	if actionType == "" || role == "" {
		writeError(w, http.StatusUnprocessableEntity, requestID, "validation", "action_type and role are required", nil)
		return
	}

	var riskScore *int
	if raw := q.Get("risk_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, requestID, "validation", "risk_score must be an integer", nil)
			return
		}
		riskScore = &n
	}

	req := policy.Request{Role: role, ActionType: actionType, Payload: map[string]any{}, CaseRiskScore: riskScore}
	doc := s.policyStore.Get()

	var trace policy.DecisionTrace
	if q.Get("permission") == "approve" {
		trace = doc.ExplainApprove(req)
	} else {
		trace = doc.ExplainExecute(req)
	}

	writeJSON(w, http.StatusOK, trace)
}
