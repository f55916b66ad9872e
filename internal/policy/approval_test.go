package policy

import "testing"

func TestRequiresApproval(t *testing.T) {
	doc := DefaultDocument()

	if doc.RequiresApproval("UpdateCardStatus", map[string]any{"new_status": "in_progress"}, "local_db") {
		t.Error("non-resolve card transitions should never require approval")
	}
	if doc.RequiresApproval("UpdateCardStatus", map[string]any{"new_status": "resolved"}, "local_db") {
		t.Error("empty resolve gate should not require approval (open question #2)")
	}

	doc.ActionApprovalPolicy.ApprovalGate.Resolve.RequireHighRiskCase = true
	doc.ActionApprovalPolicy.ApprovalGate.Resolve.HighRiskThreshold = 70
	if !doc.RequiresApproval("UpdateCardStatus", map[string]any{"new_status": "resolved"}, "local_db") {
		t.Error("non-empty resolve gate should require approval")
	}

	if !doc.RequiresApproval("SendSupplierEmail", map[string]any{}, "mock") {
		t.Error("external connector dispatch should require approval by default")
	}
}

func TestResolveGateSatisfied(t *testing.T) {
	doc := DefaultDocument()
	doc.ActionApprovalPolicy.ApprovalGate.Resolve.RequireChannel = "supervisor"
	doc.ActionApprovalPolicy.ApprovalGate.Resolve.RequireHighRiskCase = true
	doc.ActionApprovalPolicy.ApprovalGate.Resolve.HighRiskThreshold = 70

	payload := map[string]any{"new_status": "resolved"}

	ok, reason := doc.ResolveGateSatisfied("UpdateCardStatus", payload, "ui", intPtr(90))
	if ok {
		t.Fatalf("expected wrong channel to fail the gate, got ok with reason %q", reason)
	}

	ok, reason = doc.ResolveGateSatisfied("UpdateCardStatus", payload, "supervisor", intPtr(10))
	if ok {
		t.Fatalf("expected low risk score to fail the gate, got ok with reason %q", reason)
	}

	ok, reason = doc.ResolveGateSatisfied("UpdateCardStatus", payload, "supervisor", intPtr(90))
	if !ok {
		t.Fatalf("expected matching channel + risk to satisfy the gate, got reason %q", reason)
	}

	ok, _ = doc.ResolveGateSatisfied("SendSupplierEmail", map[string]any{}, "supervisor", intPtr(90))
	if ok {
		t.Error("non-UpdateCardStatus actions never self-satisfy the gate")
	}
}
