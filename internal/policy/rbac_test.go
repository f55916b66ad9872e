package policy

import "testing"

func TestCanExecute(t *testing.T) {
	doc := DefaultDocument()

	tests := []struct {
		name       string
		role       string
		actionType string
		payload    map[string]any
		wantAllow  bool
	}{
		{"operator may update card status", "operator", "UpdateCardStatus", nil, true},
		{"operator may not dispatch connector actions", "operator", "SendSupplierEmail", nil, false},
		{"service may perform any action", "service", "SendSupplierEmail", nil, true},
		{"unknown role is denied", "guest", "UpdateCardStatus", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := doc.CanExecute(Request{Role: tt.role, ActionType: tt.actionType, Payload: tt.payload})
			if ok != tt.wantAllow {
				t.Fatalf("CanExecute(%q, %q) = %v (%q), want %v", tt.role, tt.actionType, ok, reason, tt.wantAllow)
			}
		})
	}
}

func TestCanExecute_OperatorDeniedNewStatus(t *testing.T) {
	doc := DefaultDocument()
	doc.RBAC.Constraints.OperatorUpdateCardStatus.DenyNewStatus = []string{"resolved"}

	ok, reason := doc.CanExecute(Request{
		Role:       "operator",
		ActionType: "UpdateCardStatus",
		Payload:    map[string]any{"new_status": "resolved"},
	})
	if ok {
		t.Fatal("expected operator to be denied setting status to resolved")
	}
	if reason == "" {
		t.Error("expected a non-empty denial reason")
	}
}

func TestCanExecute_ActionPayloadRules(t *testing.T) {
	doc := DefaultDocument()
	doc.RBAC.Permissions.Execute["operator"] = []string{"*"}
	doc.RBAC.ActionPayloadRules = []ActionPayloadRule{
		{
			ActionType:    "IssueRefund",
			RequireRiskGE: intPtr(50),
			Reason:        "refunds require a high-risk case",
		},
	}

	ok, _ := doc.CanExecute(Request{
		Role: "operator", ActionType: "IssueRefund", Payload: map[string]any{},
		CaseRiskScore: intPtr(10),
	})
	if ok {
		t.Fatal("expected low-risk refund to be denied")
	}

	ok, reason := doc.CanExecute(Request{
		Role: "operator", ActionType: "IssueRefund", Payload: map[string]any{},
		CaseRiskScore: intPtr(80),
	})
	if !ok {
		t.Fatalf("expected high-risk refund to be allowed, got reason %q", reason)
	}
}

func intPtr(v int) *int { return &v }
