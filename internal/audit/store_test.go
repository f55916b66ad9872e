package audit

import (
	"context"
	"testing"

	"governor/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, isPostgres, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, isPostgres)
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recorded, err := s.Record(ctx, Action{
		CaseID: "case-1", Channel: "ui", ActionType: ActionTypeDecidePendingAction,
		Payload: map[string]any{"pending_id": "pa-1"}, Result: "ok",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if recorded.ActionID == "" {
		t.Error("expected an action_id to be assigned")
	}
	if recorded.CreatedAt.IsZero() {
		t.Error("expected created_at to be assigned")
	}
}

func TestRecordBestEffort_NeverPanicsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recorded := s.RecordBestEffort(ctx, Action{
		CaseID: "case-2", Channel: "api", ActionType: ActionTypeGuardrailBlock,
		Payload: map[string]any{}, Result: "blocked",
	})
	if recorded.ActionID == "" {
		t.Error("expected an action_id to be assigned even via RecordBestEffort")
	}
}

func TestRecent_OrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Record(ctx, Action{CaseID: "case-3", Channel: "ui", ActionType: "A", Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	second, err := s.Record(ctx, Action{CaseID: "case-3", Channel: "ui", ActionType: "B", Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ActionID != second.ActionID || rows[1].ActionID != first.ActionID {
		t.Error("expected newest-first ordering")
	}
}

func TestByCase_FiltersAndOrdersChronologically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Record(ctx, Action{CaseID: "case-4", Channel: "ui", ActionType: "A", Payload: map[string]any{}}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := s.Record(ctx, Action{CaseID: "case-5", Channel: "ui", ActionType: "B", Payload: map[string]any{}}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	second, err := s.Record(ctx, Action{CaseID: "case-4", Channel: "ui", ActionType: "C", Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := s.ByCase(ctx, "case-4", 10)
	if err != nil {
		t.Fatalf("ByCase failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows for case-4, want 2", len(rows))
	}
	if rows[1].ActionID != second.ActionID {
		t.Error("expected chronological (oldest-first) ordering")
	}
}
