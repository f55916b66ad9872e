package execution

import (
	"context"
	"encoding/json"
	"fmt"

	"governor/internal/policy"
	"governor/internal/store"
)

var validCardStatuses = map[string]bool{
	"todo": true, "in_progress": true, "blocked": true, "resolved": true,
}

// checkGenericGuardrails implements spec.md §4.7's guardrail 1: if
// payload.qty is present, it must be numeric and >= 0.
func checkGenericGuardrails(payload map[string]any) (bool, string) {
	qty, ok := payload["qty"]
	if !ok {
		return true, ""
	}
	n, ok := toFloat(qty)
	if !ok {
		return false, "payload.qty must be numeric"
	}
	if n < 0 {
		return false, "payload.qty must be >= 0"
	}
	return true, ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// updateCardStatusGuardrails implements spec.md §4.7's guardrail 2 in
// full: existence, case match, transition legality (idempotent no-op on
// equal status), blocked_reason/resolved_at requirements, and the resolve
// approval-gate's channel/risk preconditions.
func updateCardStatusGuardrails(ctx context.Context, doc *policy.Document, cards *store.CardRepo, cases *store.CaseRepo, caseID, channel string, payload map[string]any) (*store.KanbanCard, string, bool, string) {
	cardID, _ := payload["card_id"].(string)
	if cardID == "" {
		return nil, "", false, "card_id is required"
	}
	newStatus, _ := payload["new_status"].(string)
	if !validCardStatuses[newStatus] {
		return nil, "", false, fmt.Sprintf("new_status must be one of todo, in_progress, blocked, resolved, got %q", newStatus)
	}

	card, err := cards.Get(ctx, cardID)
	if err != nil {
		return nil, "", false, fmt.Sprintf("card %q not found", cardID)
	}
	if card.CaseID != caseID {
		return nil, "", false, fmt.Sprintf("card %q does not belong to case %q", cardID, caseID)
	}

	if newStatus == card.Status {
		return card, newStatus, true, ""
	}
	if !doc.CardStatusPolicy.Allows(card.Status, newStatus) {
		return nil, "", false, fmt.Sprintf("transition %q -> %q is not allowed", card.Status, newStatus)
	}

	if newStatus == "blocked" && doc.CardStatusPolicy.RequireBlockedReason {
		if reason, _ := payload["blocked_reason"].(string); reason == "" {
			return nil, "", false, "blocked_reason is required when transitioning to blocked"
		}
	}
	if newStatus == "resolved" {
		if doc.CardStatusPolicy.RequireResolvedAt {
			if _, ok := payload["resolved_at"]; !ok {
				return nil, "", false, "resolved_at is required when transitioning to resolved"
			}
		}
		gate := doc.ActionApprovalPolicy.ApprovalGate.Resolve
		if gate.RequireChannel != "" && channel != gate.RequireChannel {
			return nil, "", false, fmt.Sprintf("resolving requires channel %q", gate.RequireChannel)
		}
		if gate.RequireHighRiskCase {
			c, err := cases.Get(ctx, caseID)
			if err != nil {
				return nil, "", false, fmt.Sprintf("case %q not found", caseID)
			}
			threshold := gate.HighRiskThreshold
			if c.RiskScore < threshold {
				return nil, "", false, fmt.Sprintf("resolving requires case risk_score >= %d", threshold)
			}
		}
	}

	return card, newStatus, true, ""
}
