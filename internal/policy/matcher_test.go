package policy

import "testing"

func TestMatcher_Scalar(t *testing.T) {
	m := Matcher{Kind: KindScalar, Scalar: "resolved"}
	if !m.Matches("resolved") {
		t.Error("expected scalar match on equal value")
	}
	if m.Matches("blocked") {
		t.Error("expected scalar mismatch on different value")
	}
}

func TestMatcher_Any(t *testing.T) {
	m := Matcher{Kind: KindAny, Any: []any{"blocked", "resolved"}}
	if !m.Matches("resolved") {
		t.Error("expected any-of-list match")
	}
	if m.Matches("todo") {
		t.Error("expected any-of-list mismatch")
	}
}

func TestMatcher_OpIn(t *testing.T) {
	m := Matcher{Kind: KindOp, Op: OpIn, OpArg: []any{"high", "critical"}}
	if !m.Matches("critical") {
		t.Error("expected in-operator match")
	}
	if m.Matches("low") {
		t.Error("expected in-operator mismatch")
	}
}

func TestMatcher_OpContains(t *testing.T) {
	m := Matcher{Kind: KindOp, Op: OpContains, OpArg: "prod"}
	if !m.Matches("prod-database-1") {
		t.Error("expected contains-operator match")
	}
	if m.Matches("staging-database-1") {
		t.Error("expected contains-operator mismatch")
	}
}

func TestCardStatusPolicy_Allows(t *testing.T) {
	p := DefaultDocument().CardStatusPolicy

	if !p.Allows("todo", "in_progress") {
		t.Error("expected todo -> in_progress to be a legal transition")
	}
	if !p.Allows("resolved", "resolved") {
		t.Error("expected a same-status transition to always be legal (no-op)")
	}
	if p.Allows("resolved", "todo") {
		t.Error("expected resolved -> todo to be illegal")
	}
}
