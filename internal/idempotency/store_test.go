package idempotency

import (
	"context"
	"testing"

	"governor/internal/store"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	db, isPostgres, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, isPostgres)
}

func TestCheckOrReplay_FirstSeen(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	replayed, response, err := s.CheckOrReplay(ctx, "key-1", "hash-1")
	if err != nil {
		t.Fatalf("CheckOrReplay failed: %v", err)
	}
	if replayed {
		t.Error("expected replayed=false for a never-seen key")
	}
	if response != nil {
		t.Error("expected nil response for a never-seen key")
	}
}

func TestCheckOrReplay_ReplayMatchingHash(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.Store(ctx, "key-2", "hash-2", map[string]any{"ok": true}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	replayed, response, err := s.CheckOrReplay(ctx, "key-2", "hash-2")
	if err != nil {
		t.Fatalf("CheckOrReplay failed: %v", err)
	}
	if !replayed {
		t.Fatal("expected replayed=true for a matching-hash key")
	}
	if string(response) != `{"ok":true}` {
		t.Errorf("got response %s, want {\"ok\":true}", response)
	}
}

func TestCheckOrReplay_ConflictOnMismatchedHash(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.Store(ctx, "key-3", "hash-a", map[string]any{"ok": true}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, _, err := s.CheckOrReplay(ctx, "key-3", "hash-b")
	if err != ErrConflict {
		t.Fatalf("got err %v, want ErrConflict", err)
	}
}

func TestScopedKey_Deterministic(t *testing.T) {
	a := ScopedKey("pending_actions/decide", "user-1", "card-1", "raw-key")
	b := ScopedKey("pending_actions/decide", "user-1", "card-1", "raw-key")
	if a != b {
		t.Error("expected ScopedKey to be deterministic for identical inputs")
	}

	c := ScopedKey("pending_actions/decide", "user-1", "card-2", "raw-key")
	if a == c {
		t.Error("expected ScopedKey to differ when card_id differs")
	}
}
