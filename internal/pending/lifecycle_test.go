package pending

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"governor/internal/audit"
	"governor/internal/execution"
	"governor/internal/policy"
	"governor/internal/store"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, *Store, *store.CaseRepo, *store.CardRepo) {
	t.Helper()

	db, isPostgres, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	policyStore, stopWatch, err := policy.NewStore(policyPath)
	if err != nil {
		t.Fatalf("policy.NewStore failed: %v", err)
	}
	t.Cleanup(stopWatch)

	cases := store.NewCaseRepo(db, isPostgres)
	cards := store.NewCardRepo(db, isPostgres)
	auditStore := audit.NewStore(db, isPostgres)
	connectors := execution.NewConnectorRegistry(time.Second)
	pipeline := execution.NewActionPipeline(policyStore, cards, cases, auditStore, connectors)

	pendingStore := NewStore(db, isPostgres)
	lifecycle := NewLifecycle(pendingStore, policyStore, auditStore, pipeline)

	return lifecycle, pendingStore, cases, cards
}

func seedPendingAction(t *testing.T, s *Store, p *PendingAction) *PendingAction {
	t.Helper()
	if err := s.Create(context.Background(), nil, p); err != nil {
		t.Fatalf("seed pending action failed: %v", err)
	}
	return p
}

func TestDecide_ApproveTransitionsToApproved(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-1", ResourceID: "res-1", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-1", Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	got, err := lifecycle.Decide(ctx, DecideInput{
		PendingID: p.PendingID, Decision: DecisionApprove, Channel: "ui",
		Subject: "user-1", Role: "supervisor",
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("got status %q, want approved", got.Status)
	}
	if got.ApprovedBy == nil || *got.ApprovedBy != "user-1" {
		t.Errorf("expected approved_by to be set to user-1, got %v", got.ApprovedBy)
	}
}

func TestDecide_RBACDenied(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-2", ResourceID: "res-2", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-2", Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	_, err := lifecycle.Decide(ctx, DecideInput{
		PendingID: p.PendingID, Decision: DecisionApprove, Channel: "ui",
		Subject: "user-1", Role: "operator",
	})
	var lerr *Error
	if err == nil {
		t.Fatal("expected an error for a role not permitted to approve")
	}
	if !asLifecycleError(err, &lerr) || lerr.Status != 403 {
		t.Fatalf("got err %v, want a 403 lifecycle error", err)
	}
}

func TestDecide_IdempotentReplay(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-3", ResourceID: "res-3", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-3", Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	in := DecideInput{
		PendingID: p.PendingID, Decision: DecisionApprove, Channel: "ui",
		Subject: "user-1", Role: "supervisor", IdempotencyKey: "decide-key-1",
	}
	first, err := lifecycle.Decide(ctx, in)
	if err != nil {
		t.Fatalf("first Decide failed: %v", err)
	}

	second, err := lifecycle.Decide(ctx, in)
	if err != nil {
		t.Fatalf("replayed Decide failed: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("got replayed status %q, want %q", second.Status, first.Status)
	}
}

func TestDecide_IdempotencyConflict(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-4", ResourceID: "res-4", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-4", Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	if _, err := lifecycle.Decide(ctx, DecideInput{
		PendingID: p.PendingID, Decision: DecisionApprove, Channel: "ui",
		Subject: "user-1", Role: "supervisor", IdempotencyKey: "decide-key-2",
	}); err != nil {
		t.Fatalf("first Decide failed: %v", err)
	}

	_, err := lifecycle.Decide(ctx, DecideInput{
		PendingID: p.PendingID, Decision: DecisionReject, Channel: "ui",
		Subject: "user-1", Role: "supervisor", IdempotencyKey: "decide-key-2",
	})
	var lerr *Error
	if !asLifecycleError(err, &lerr) || lerr.Status != 409 {
		t.Fatalf("got err %v, want a 409 idempotency_conflict error", err)
	}
}

func TestDecide_IllegalTransitionFromTerminalStatus(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-5", ResourceID: "res-5", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-5", Status: StatusRejected, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	_, err := lifecycle.Decide(ctx, DecideInput{
		PendingID: p.PendingID, Decision: DecisionApprove, Channel: "ui",
		Subject: "user-1", Role: "supervisor",
	})
	var lerr *Error
	if !asLifecycleError(err, &lerr) || lerr.Status != 409 {
		t.Fatalf("got err %v, want a 409 illegal_transition error", err)
	}
}

func TestExecute_RequiresApprovalFirst(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-6", ResourceID: "res-6", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-6", Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	_, _, err := lifecycle.Execute(ctx, ExecuteInput{
		PendingID: p.PendingID, Channel: "ui", Subject: "user-1", Role: "service", CaseID: "case-6",
	})
	var lerr *Error
	if !asLifecycleError(err, &lerr) || lerr.Status != 409 {
		t.Fatalf("got err %v, want a 409 approval_required error", err)
	}
}

func TestExecute_DispatchesAfterApproval(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-7", ResourceID: "res-7", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-7", Status: StatusApproved, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{}, ApprovalRequired: true,
	})

	got, result, err := lifecycle.Execute(ctx, ExecuteInput{
		PendingID: p.PendingID, Channel: "ui", Subject: "user-1", Role: "service", CaseID: "case-7",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK {
		t.Fatalf("got result %+v, want OK", result)
	}
	if got.Status != StatusExecuted {
		t.Errorf("got status %q, want executed", got.Status)
	}
}

func TestSupersede_CancelsOpenPendingActionsForCard(t *testing.T) {
	lifecycle, pendingStore, cases, _ := newTestLifecycle(t)
	ctx := context.Background()

	if err := cases.Upsert(ctx, store.Case{CaseID: "case-8", ResourceID: "res-8", RiskScore: 10, Status: "open"}); err != nil {
		t.Fatalf("seed case failed: %v", err)
	}
	cardID := "card-8"
	p := seedPendingAction(t, pendingStore, &PendingAction{
		CaseID: "case-8", CardID: &cardID, Status: StatusPending, ActionType: "SendSupplierEmail",
		ActionPayload: map[string]any{},
	})

	superseded, err := lifecycle.Supersede(ctx, "case-8", cardID, "mat-1", "ui", audit.Envelope{})
	if err != nil {
		t.Fatalf("Supersede failed: %v", err)
	}
	if len(superseded) != 1 || superseded[0].PendingID != p.PendingID {
		t.Fatalf("got %d superseded actions, want exactly the one pending action", len(superseded))
	}

	reloaded, err := pendingStore.Get(ctx, nil, p.PendingID, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reloaded.Status != StatusCanceled {
		t.Errorf("got status %q, want canceled", reloaded.Status)
	}
	if reloaded.SupersededByMaterializationID == nil || *reloaded.SupersededByMaterializationID != "mat-1" {
		t.Errorf("expected superseded_by_materialization_id to be set to mat-1")
	}
}

func asLifecycleError(err error, target **Error) bool {
	le, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = le
	return true
}
