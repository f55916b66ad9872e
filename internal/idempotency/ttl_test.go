package idempotency

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"governor/internal/store"
)

func openTTLTestDB(t *testing.T) (*sql.DB, bool, *store.MaterializationRepo) {
	t.Helper()
	db, isPostgres, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, isPostgres, store.NewMaterializationRepo(db, isPostgres)
}

func TestCleanupOnce_RemovesOnlyExpiredRows(t *testing.T) {
	db, isPostgres, mats := openTTLTestDB(t)
	ctx := context.Background()

	old := store.Materialization{
		Endpoint: "recommendations", Subject: "user-1", CardID: "card-1", CaseID: "case-1",
		IdempotencyKey: "key-old", RequestHash: "hash-old",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	if _, err := mats.Create(ctx, old, 24); err != nil {
		t.Fatalf("seed expired materialization failed: %v", err)
	}

	fresh := store.Materialization{
		Endpoint: "recommendations", Subject: "user-2", CardID: "card-2", CaseID: "case-2",
		IdempotencyKey: "key-fresh", RequestHash: "hash-fresh",
	}
	createdFresh, err := mats.Create(ctx, fresh, 24)
	if err != nil {
		t.Fatalf("seed fresh materialization failed: %v", err)
	}

	worker := NewCleanupWorker(db, isPostgres, 24*time.Hour, time.Hour)
	n, err := worker.cleanupOnce(ctx)
	if err != nil {
		t.Fatalf("cleanupOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows removed, want 1", n)
	}

	if _, err := mats.Get(ctx, createdFresh.MaterializationID); err != nil {
		t.Errorf("expected the fresh materialization to survive cleanup, got err %v", err)
	}
}

func TestCleanupOnce_NoExpiredRowsRemovesNothing(t *testing.T) {
	db, isPostgres, mats := openTTLTestDB(t)
	ctx := context.Background()

	if _, err := mats.Create(ctx, store.Materialization{
		Endpoint: "recommendations", Subject: "user-3", CardID: "card-3", CaseID: "case-3",
		IdempotencyKey: "key-3", RequestHash: "hash-3",
	}, 24); err != nil {
		t.Fatalf("seed materialization failed: %v", err)
	}

	worker := NewCleanupWorker(db, isPostgres, 24*time.Hour, time.Hour)
	n, err := worker.cleanupOnce(ctx)
	if err != nil {
		t.Fatalf("cleanupOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d rows removed, want 0", n)
	}
}
