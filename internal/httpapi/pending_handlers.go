package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"governor/internal/idempotency"
	"governor/internal/pending"
	"governor/internal/store"
)

// handleListPendingActions serves GET /pending_actions.
func (s *Server) handleListPendingActions(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	rows, err := s.pendingLifecycle.List(r.Context(), 0)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_actions": rows})
}

// handleGetPendingAction serves GET /pending_actions/{pending_id}.
func (s *Server) handleGetPendingAction(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	p, err := s.pendingLifecycle.Get(r.Context(), chi.URLParam(r, "pending_id"))
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// createPendingActionRequest is POST /pending_actions's body. This is the
// in-scope entry point a materialization batch (an external collaborator
// per spec.md §1's Non-goals) calls to register the proposed actions it
// computed; supplying both card_id and materialization_id triggers the
// supersede-on-rematerialize flow of spec.md §4.8.
type createPendingActionRequest struct {
	CaseID            string         `json:"case_id"`
	CardID            string         `json:"card_id,omitempty"`
	ActionType        string         `json:"action_type"`
	ActionPayload     map[string]any `json:"action_payload"`
	Rationale         string         `json:"rationale,omitempty"`
	Rank              int            `json:"rank,omitempty"`
	MaterializationID string         `json:"materialization_id,omitempty"`
	Objective         string         `json:"objective,omitempty"`
	Source            string         `json:"source,omitempty"`
}

// handleCreatePendingAction serves POST /pending_actions.
func (s *Server) handleCreatePendingAction(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_body", "failed to read request body", nil)
		return
	}
	var req createPendingActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_json", err.Error(), nil)
		return
	}
	if req.CaseID == "" || req.ActionType == "" {
		writeError(w, http.StatusUnprocessableEntity, requestID, "validation", "case_id and action_type are required", nil)
		return
	}
	if req.ActionPayload == nil {
		req.ActionPayload = map[string]any{}
	}

	doc := s.policyStore.Get()
	actor, channel := s.actorAndChannel(doc, r)
	envelope := s.envelopes.Build(doc, actor, r, requestID, req.MaterializationID)

	if req.CardID != "" && req.MaterializationID != "" {
		reqHash, err := idempotency.RequestHash(req)
		if err != nil {
			writeDomainError(w, requestID, err)
			return
		}
		if _, err := s.materializations.FindByScope(r.Context(), "pending_actions", actor.Sub, req.CardID, req.MaterializationID); err == store.ErrNotFound {
			_, err := s.materializations.Create(r.Context(), store.Materialization{
				MaterializationID: req.MaterializationID,
				Endpoint:          "pending_actions",
				Subject:           actor.Sub,
				CardID:            req.CardID,
				CaseID:            req.CaseID,
				IdempotencyKey:    req.MaterializationID,
				RequestHash:       reqHash,
				Objective:         req.Objective,
				Source:            req.Source,
			}, doc.MaterializationPolicy.TTLHours)
			if err != nil && err != store.ErrDuplicateMaterialization {
				writeDomainError(w, requestID, err)
				return
			}
		} else if err != nil {
			writeDomainError(w, requestID, err)
			return
		}

		if _, err := s.pendingLifecycle.Supersede(r.Context(), req.CaseID, req.CardID, req.MaterializationID, channel, envelope); err != nil {
			writeDomainError(w, requestID, err)
			return
		}
	}

	executionTarget := "mock"
	if req.ActionType == "UpdateCardStatus" {
		executionTarget = "local_db"
	}

	p := &pending.PendingAction{
		CaseID:           req.CaseID,
		Status:           pending.StatusPending,
		ApprovalRequired: doc.RequiresApproval(req.ActionType, req.ActionPayload, executionTarget),
		ActionType:       req.ActionType,
		ActionPayload:    req.ActionPayload,
		Rationale:        req.Rationale,
		Rank:             req.Rank,
	}
	if req.CardID != "" {
		p.CardID = &req.CardID
	}
	if req.MaterializationID != "" {
		p.MaterializationID = &req.MaterializationID
	}

	if err := s.pendingLifecycle.Create(r.Context(), p); err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// decisionRequest is PATCH /pending_actions/{pending_id}/decision's body.
type decisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

// handleDecidePendingAction serves PATCH /pending_actions/{pending_id}/decision.
func (s *Server) handleDecidePendingAction(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	pendingID := chi.URLParam(r, "pending_id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_body", "failed to read request body", nil)
		return
	}
	var req decisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_json", err.Error(), nil)
		return
	}

	doc := s.policyStore.Get()
	actor, channel := s.actorAndChannel(doc, r)
	envelope := s.envelopes.Build(doc, actor, r, requestID, "")

	var caseRiskScore *int
	if p, err := s.pendingLifecycle.Get(r.Context(), pendingID); err == nil {
		if c, err := s.cases.Get(r.Context(), p.CaseID); err == nil {
			risk := c.RiskScore
			caseRiskScore = &risk
		}
	}

	p, err := s.pendingLifecycle.Decide(r.Context(), pending.DecideInput{
		PendingID:      pendingID,
		Decision:       pending.Decision(req.Decision),
		Note:           req.Note,
		Channel:        channel,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Subject:        actor.Sub,
		Role:           actor.Role,
		CaseRiskScore:  caseRiskScore,
		Envelope:       envelope,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// executePendingActionRequest is POST /pending_actions/{pending_id}/execute's body.
type executePendingActionRequest struct {
	DryRun bool `json:"dry_run"`
}

// handleExecutePendingAction serves POST /pending_actions/{pending_id}/execute.
func (s *Server) handleExecutePendingAction(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	pendingID := chi.URLParam(r, "pending_id")

	var req executePendingActionRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_body", "failed to read request body", nil)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_json", err.Error(), nil)
			return
		}
	}

	doc := s.policyStore.Get()
	actor, channel := s.actorAndChannel(doc, r)

	existing, err := s.pendingLifecycle.Get(r.Context(), pendingID)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	var caseRiskScore *int
	if c, err := s.cases.Get(r.Context(), existing.CaseID); err == nil {
		risk := c.RiskScore
		caseRiskScore = &risk
	}
	envelope := s.envelopes.Build(doc, actor, r, requestID, "")

	p, result, err := s.pendingLifecycle.Execute(r.Context(), pending.ExecuteInput{
		PendingID:      pendingID,
		DryRun:         req.DryRun,
		Channel:        channel,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Subject:        actor.Sub,
		Role:           actor.Role,
		CaseID:         existing.CaseID,
		CaseRiskScore:  caseRiskScore,
		Envelope:       envelope,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}
	if result.Blocked {
		guardrailBlockTotal.WithLabelValues(existing.ActionType).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_action": p, "result": result})
}
