package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"governor/internal/audit"
	"governor/internal/execution"
	"governor/internal/idempotency"
	"governor/internal/policy"
)

// executeRequest is POST /actions/execute's body, per spec.md §4.7/§8.
type executeRequest struct {
	CaseID     string         `json:"case_id"`
	ActionType string         `json:"action_type"`
	Channel    string         `json:"channel"`
	Payload    map[string]any `json:"payload"`
	DryRun     bool           `json:"dry_run"`
}

// handleExecuteAction implements POST /actions/execute: admission
// (RBAC + the direct-execute approval gate, per DESIGN.md's open-question
// #4 resolution), global Idempotency-Key replay, and dispatch through the
// C7 execution pipeline.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_body", "failed to read request body", nil)
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_json", err.Error(), nil)
		return
	}
	if req.CaseID == "" || req.ActionType == "" {
		writeError(w, http.StatusUnprocessableEntity, requestID, "validation", "case_id and action_type are required", nil)
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	doc := s.policyStore.Get()
	actor, headerChannel := s.actorAndChannel(doc, r)
	channel := req.Channel
	if channel == "" {
		channel = headerChannel
	}

	var caseRiskScore *int
	if c, err := s.cases.Get(r.Context(), req.CaseID); err == nil {
		risk := c.RiskScore
		caseRiskScore = &risk
	}

	envelope := s.envelopes.Build(doc, actor, r, requestID, "")

	policyReq := policy.Request{Role: actor.Role, ActionType: req.ActionType, Payload: req.Payload, CaseRiskScore: caseRiskScore}
	if ok, reason := doc.CanExecute(policyReq); !ok {
		if !req.DryRun {
			s.auditStore.RecordBestEffort(r.Context(), audit.Action{
				CaseID: req.CaseID, Channel: channel, ActionType: audit.ActionTypeRBACViolation,
				Payload: audit.WithAudit(map[string]any{"action_type": req.ActionType}, envelope),
				Result:  reason,
			})
		}
		writeError(w, http.StatusForbidden, requestID, "forbidden", reason, nil)
		return
	}

	executionTarget := "mock"
	if req.ActionType == "UpdateCardStatus" {
		executionTarget = "local_db"
	}
	if doc.RequiresApproval(req.ActionType, req.Payload, executionTarget) {
		if ok, reason := doc.ResolveGateSatisfied(req.ActionType, req.Payload, channel, caseRiskScore); !ok {
			writeError(w, http.StatusForbidden, requestID, "forbidden", reason, nil)
			return
		}
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	var reqHash string
	if doc.Idempotency.Enabled && idempotencyKey != "" {
		reqHash, err = idempotency.RequestHash(req)
		if err != nil {
			writeDomainError(w, requestID, err)
			return
		}
		replayed, response, err := s.idemStore.CheckOrReplay(r.Context(), idempotencyKey, reqHash)
		if err != nil {
			idempotencyConflictTotal.Inc()
			writeDomainError(w, requestID, err)
			return
		}
		if replayed {
			idempotencyReplayTotal.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(response)
			return
		}
	}

	result, err := s.pipeline.ExecuteAction(r.Context(), execution.Request{
		CaseID: req.CaseID, Channel: channel, ActionType: req.ActionType,
		Payload: req.Payload, DryRun: req.DryRun, Envelope: envelope,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	if result.Blocked {
		guardrailBlockTotal.WithLabelValues(req.ActionType).Inc()
	}

	if doc.Idempotency.Enabled && idempotencyKey != "" && !req.DryRun {
		if err := s.idemStore.Store(r.Context(), idempotencyKey, reqHash, result); err != nil {
			writeDomainError(w, requestID, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, result)
}
