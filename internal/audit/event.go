// Package audit builds and persists the append-only audit trail: the
// sanitizing envelope attached to every action, and the Action rows
// written for executions, pending-action decisions, and violations.
package audit

import "time"

// Action is an append-only audit row (spec.md §3's "Action (audit row)").
// Rows are never mutated after insert.
type Action struct {
	ActionID   string         `json:"action_id"`
	CaseID     string         `json:"case_id"`
	Channel    string         `json:"channel"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
	Result     string         `json:"result"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Well-known action types written for violations and lifecycle events,
// distinct from the domain ActionType carried in the payload.
const (
	ActionTypeIdempotencyConflict            = "IdempotencyConflict"
	ActionTypePendingActionTransitionViolation = "PendingActionTransitionViolation"
	ActionTypeDecidePendingAction             = "DecidePendingAction"
	ActionTypeSupersedePendingActions         = "SupersedePendingActions"
	ActionTypeRBACViolation                   = "RBACViolation"
	ActionTypeGuardrailBlock                  = "GuardrailBlock"
)
