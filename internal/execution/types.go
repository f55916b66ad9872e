// Package execution implements the guarded execution pipeline (C7):
// generic and UpdateCardStatus guardrails, connector dispatch with
// circuit breaking, dry-run preview, and audit-row writes.
package execution

import (
	"context"

	"governor/internal/audit"
)

// Request is execute_action's input, per spec.md §4.7.
type Request struct {
	CaseID     string
	Channel    string
	ActionType string
	Payload    map[string]any
	DryRun     bool
	Envelope   audit.Envelope
}

// WouldExecute previews the connector a non-dry-run call would dispatch
// to, returned only for dry_run=true and guardrails-pass results.
type WouldExecute struct {
	Connector string `json:"connector"`
}

// Result is execute_action's output shape, per spec.md §4.7.
type Result struct {
	OK           bool           `json:"ok"`
	ActionID     string         `json:"action_id,omitempty"`
	Connector    string         `json:"connector,omitempty"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	DryRun       bool           `json:"dry_run,omitempty"`
	WouldExecute *WouldExecute  `json:"would_execute,omitempty"`
	Blocked      bool           `json:"blocked,omitempty"`
}

// Pipeline is the C7 contract the pending-action lifecycle (C8) and the
// public /actions/execute handler both dispatch through.
type Pipeline interface {
	ExecuteAction(ctx context.Context, req Request) (Result, error)
}
