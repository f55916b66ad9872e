package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"governor/internal/audit"
	"governor/internal/canonicaljson"
	"governor/internal/execution"
	"governor/internal/idempotency"
	"governor/internal/policy"
)

// Decision is the caller's verdict in Decide, either "approve" or "reject".
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Error is a lifecycle failure carrying the HTTP status the caller should
// respond with, per spec.md §4.8's numbered failure points.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Lifecycle implements the decide/execute/supersede orchestration of
// spec.md §4.8, grounded on the teacher's cmd/auditd/approval_handlers.go
// decide-then-audit control flow, generalized from a single approval
// table to the full PendingAction state machine.
type Lifecycle struct {
	store       *Store
	policyStore *policy.Store
	auditStore  *audit.Store
	pipeline    execution.Pipeline
}

// NewLifecycle wires the pending-action orchestration against its
// collaborators.
func NewLifecycle(store *Store, policyStore *policy.Store, auditStore *audit.Store, pipeline execution.Pipeline) *Lifecycle {
	return &Lifecycle{store: store, policyStore: policyStore, auditStore: auditStore, pipeline: pipeline}
}

// DecideInput carries decide(...)'s inputs, per spec.md §4.8.
type DecideInput struct {
	PendingID      string
	Decision       Decision
	Note           string
	Channel        string
	IdempotencyKey string
	Subject        string
	Role           string
	CaseRiskScore  *int
	Envelope       audit.Envelope
}

// Decide implements spec.md §4.8's decide(...): approve or reject a
// pending action, honoring scoped-idempotency replay and RBAC/transition
// legality checks.
func (l *Lifecycle) Decide(ctx context.Context, in DecideInput) (*PendingAction, error) {
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return nil, newError(422, "invalid_decision", fmt.Sprintf("decision must be approve or reject, got %q", in.Decision))
	}

	reqHash, err := canonicaljson.Hash(map[string]any{
		"decision": string(in.Decision),
		"note":     in.Note,
		"channel":  in.Channel,
	})
	if err != nil {
		return nil, fmt.Errorf("pending: hash decide request: %w", err)
	}
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := l.store.Get(ctx, tx, in.PendingID, true)
	if err != nil {
		return nil, err
	}
	cardID := p.CardIDOrEmpty()
	scopedKey := idempotency.ScopedKey("decide_pending_action", in.Subject, cardID, in.IdempotencyKey)

	if in.IdempotencyKey != "" && p.DecisionIdempotencyKey != nil && *p.DecisionIdempotencyKey == scopedKey {
		if p.DecisionRequestHash == nil || *p.DecisionRequestHash != reqHash {
			l.auditStore.RecordBestEffort(ctx, audit.Action{
				CaseID: p.CaseID, Channel: in.Channel,
				ActionType: audit.ActionTypeIdempotencyConflict,
				Payload:    audit.WithAudit(map[string]any{"pending_id": p.PendingID}, in.Envelope),
				Result:     "Idempotency-Key reuse with different payload",
			})
			return nil, newError(409, "idempotency_conflict", "Idempotency-Key reuse with different payload")
		}
		return p, nil
	}

	doc := l.policyStore.Get()
	policyReq := policy.Request{Role: in.Role, ActionType: p.ActionType, Payload: p.ActionPayload, CaseRiskScore: in.CaseRiskScore}
	if ok, reason := doc.CanApprove(policyReq); !ok {
		l.recordViolation(ctx, p, in.Channel, in.Envelope, reason)
		return nil, newError(403, "forbidden", reason)
	}

	var toStatus Status
	if in.Decision == DecisionApprove {
		toStatus = StatusApproved
	} else {
		toStatus = StatusRejected
	}
	if !doc.PendingActionPolicy.Allows(string(p.Status), string(toStatus)) {
		l.recordViolation(ctx, p, in.Channel, in.Envelope, fmt.Sprintf("illegal transition %s -> %s", p.Status, toStatus))
		return nil, newError(409, "illegal_transition", fmt.Sprintf("cannot transition pending action from %q to %q", p.Status, toStatus))
	}

	now := time.Now().UTC()
	p.Status = toStatus
	if in.Decision == DecisionApprove {
		subject := in.Subject
		p.ApprovedBy = &subject
		p.ApprovedAt = &now
	}
	if in.Note != "" {
		note := in.Note
		p.ExecutionResult = &note
	}
	p.DecisionIdempotencyKey = &scopedKey
	p.DecisionRequestHash = &reqHash

	if err := l.store.Update(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pending: commit decide: %w", err)
	}

	l.auditStore.RecordBestEffort(ctx, audit.Action{
		CaseID: p.CaseID, Channel: in.Channel,
		ActionType: audit.ActionTypeDecidePendingAction,
		Payload: audit.WithAudit(map[string]any{
			"pending_id": p.PendingID, "decision": string(in.Decision), "note": in.Note,
		}, in.Envelope),
		Result: string(p.Status),
	})

	return p, nil
}

// ExecuteInput carries execute(...)'s inputs, per spec.md §4.8.
type ExecuteInput struct {
	PendingID      string
	DryRun         bool
	Channel        string
	IdempotencyKey string
	Subject        string
	Role           string
	CaseID         string
	CaseRiskScore  *int
	Envelope       audit.Envelope
}

// Execute implements spec.md §4.8's execute(...): run a pending action's
// payload through the execution pipeline (C7) once RBAC and approval
// gating pass, persisting the resulting terminal status.
func (l *Lifecycle) Execute(ctx context.Context, in ExecuteInput) (*PendingAction, execution.Result, error) {
	reqHash, err := canonicaljson.Hash(map[string]any{
		"pending_id": in.PendingID, "dry_run": in.DryRun, "channel": in.Channel,
	})
	if err != nil {
		return nil, execution.Result{}, fmt.Errorf("pending: hash execute request: %w", err)
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, execution.Result{}, fmt.Errorf("pending: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := l.store.Get(ctx, tx, in.PendingID, true)
	if err != nil {
		return nil, execution.Result{}, err
	}
	cardID := p.CardIDOrEmpty()
	scopedKey := idempotency.ScopedKey("execute_pending_action", in.Subject, cardID, in.IdempotencyKey)

	if in.IdempotencyKey != "" && p.ExecutionIdempotencyKey != nil && *p.ExecutionIdempotencyKey == scopedKey {
		if p.ExecutionRequestHash == nil || *p.ExecutionRequestHash != reqHash {
			l.auditStore.RecordBestEffort(ctx, audit.Action{
				CaseID: p.CaseID, Channel: in.Channel,
				ActionType: audit.ActionTypeIdempotencyConflict,
				Payload:    audit.WithAudit(map[string]any{"pending_id": p.PendingID}, in.Envelope),
				Result:     "Idempotency-Key reuse with different payload",
			})
			return nil, execution.Result{}, newError(409, "idempotency_conflict", "Idempotency-Key reuse with different payload")
		}
		result := execution.Result{OK: p.Status == StatusExecuted}
		if p.ExecutionResult != nil {
			result.Message = *p.ExecutionResult
		}
		if p.ExecutedActionID != nil {
			result.ActionID = *p.ExecutedActionID
		}
		return p, result, nil
	}

	doc := l.policyStore.Get()
	policyReq := policy.Request{Role: in.Role, ActionType: p.ActionType, Payload: p.ActionPayload, CaseRiskScore: in.CaseRiskScore}
	if ok, reason := doc.CanExecute(policyReq); !ok {
		if !in.DryRun {
			l.recordViolation(ctx, p, in.Channel, in.Envelope, reason)
		}
		return nil, execution.Result{}, newError(403, "forbidden", reason)
	}

	if p.ApprovalRequired && p.Status != StatusApproved {
		reason := fmt.Sprintf("pending action requires approval before execution (status=%s)", p.Status)
		if !in.DryRun {
			l.recordViolation(ctx, p, in.Channel, in.Envelope, reason)
		}
		return nil, execution.Result{}, newError(409, "approval_required", reason)
	}

	result, err := l.pipeline.ExecuteAction(ctx, execution.Request{
		CaseID: in.CaseID, Channel: in.Channel, ActionType: p.ActionType,
		Payload: p.ActionPayload, DryRun: in.DryRun, Envelope: in.Envelope,
	})
	if err != nil {
		return nil, execution.Result{}, fmt.Errorf("pending: execute_action: %w", err)
	}
	if in.DryRun {
		return p, result, nil
	}

	toStatus := StatusExecuted
	if !result.OK {
		toStatus = StatusBlocked
	}
	if !doc.PendingActionPolicy.Allows(string(p.Status), string(toStatus)) {
		l.recordViolation(ctx, p, in.Channel, in.Envelope, fmt.Sprintf("illegal transition %s -> %s", p.Status, toStatus))
		return nil, execution.Result{}, newError(409, "illegal_transition", fmt.Sprintf("cannot transition pending action from %q to %q", p.Status, toStatus))
	}

	p.Status = toStatus
	message := result.Message
	p.ExecutionResult = &message
	if result.ActionID != "" {
		actionID := result.ActionID
		p.ExecutedActionID = &actionID
	}
	p.ExecutionIdempotencyKey = &scopedKey
	p.ExecutionRequestHash = &reqHash

	if err := l.store.Update(ctx, tx, p); err != nil {
		return nil, execution.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return nil, execution.Result{}, fmt.Errorf("pending: commit execute: %w", err)
	}

	return p, result, nil
}

// Supersede implements spec.md §4.8's supersede semantics: every pending
// action for cardID whose status is in the policy's supersede_statuses is
// transitioned to canceled, in a single transaction, emitting one batch
// audit row.
func (l *Lifecycle) Supersede(ctx context.Context, caseID, cardID, materializationID, channel string, envelope audit.Envelope) ([]PendingAction, error) {
	doc := l.policyStore.Get()

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := l.store.ListByCard(ctx, tx, cardID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reason := "superseded"
	var superseded []PendingAction
	for i := range rows {
		row := &rows[i]
		if !doc.PendingActionPolicy.ShouldSupersede(string(row.Status)) {
			continue
		}
		row.Status = StatusCanceled
		matID := materializationID
		row.SupersededByMaterializationID = &matID
		row.SupersededAt = &now
		row.CanceledReason = &reason
		if err := l.store.Update(ctx, tx, row); err != nil {
			return nil, err
		}
		superseded = append(superseded, *row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pending: commit supersede: %w", err)
	}

	if len(superseded) > 0 {
		ids := make([]string, 0, len(superseded))
		for _, row := range superseded {
			ids = append(ids, row.PendingID)
		}
		l.auditStore.RecordBestEffort(ctx, audit.Action{
			CaseID: caseID, Channel: channel,
			ActionType: audit.ActionTypeSupersedePendingActions,
			Payload: audit.WithAudit(map[string]any{
				"card_id": cardID, "materialization_id": materializationID, "pending_ids": ids,
			}, envelope),
			Result: fmt.Sprintf("superseded %d pending action(s)", len(superseded)),
		})
	}

	return superseded, nil
}

func (l *Lifecycle) recordViolation(ctx context.Context, p *PendingAction, channel string, envelope audit.Envelope, reason string) {
	l.auditStore.RecordBestEffort(ctx, audit.Action{
		CaseID: p.CaseID, Channel: channel,
		ActionType: audit.ActionTypePendingActionTransitionViolation,
		Payload:    audit.WithAudit(map[string]any{"pending_id": p.PendingID}, envelope),
		Result:     reason,
	})
}

// Create inserts a new PendingAction, for the public creation endpoint
// (spec.md §4.8's entry point into the lifecycle: the card/materialization
// pipeline hands off a fully-formed row here once approval_required has
// been computed).
func (l *Lifecycle) Create(ctx context.Context, p *PendingAction) error {
	return l.store.Create(ctx, nil, p)
}

// Get loads a single pending action for read endpoints.
func (l *Lifecycle) Get(ctx context.Context, pendingID string) (*PendingAction, error) {
	p, err := l.store.Get(ctx, nil, pendingID, false)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListByCase loads every pending action for caseID for read endpoints.
func (l *Lifecycle) ListByCase(ctx context.Context, caseID string) ([]PendingAction, error) {
	return l.store.ListByCase(ctx, caseID)
}

// List loads every pending action for the read-all endpoint.
func (l *Lifecycle) List(ctx context.Context, limit int) ([]PendingAction, error) {
	return l.store.List(ctx, limit)
}
