package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists Action rows. Grounded on the teacher's
// internal/audit/store.go (dual Postgres/SQLite backend via rebind,
// raw database/sql), narrowed to the single Action row shape spec.md §3
// names instead of the teacher's richer delegation Event.
type Store struct {
	db         *sql.DB
	isPostgres bool
}

// NewStore wraps an already-opened, already-migrated *sql.DB.
func NewStore(db *sql.DB, isPostgres bool) *Store {
	return &Store{db: db, isPostgres: isPostgres}
}

func (s *Store) rebind(query string) string {
	if !s.isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			fmt.Fprintf(&b, "%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record writes an audit row and returns any marshalling or storage
// error. Callers that cannot act on such an error use RecordBestEffort,
// which wraps Record and logs the error instead.
func (s *Store) Record(ctx context.Context, a Action) (Action, error) {
	if a.ActionID == "" {
		a.ActionID = "act_" + uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return a, fmt.Errorf("audit: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO actions (action_id, case_id, channel, action_type, payload, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ActionID, a.CaseID, a.Channel, a.ActionType, string(payloadJSON), a.Result, a.CreatedAt)
	if err != nil {
		return a, fmt.Errorf("audit: insert action: %w", err)
	}
	return a, nil
}

// RecordBestEffort writes an audit row and logs (rather than propagates)
// any storage error, per spec.md §7's "best-effort audit writes must
// never raise from the call site."
func (s *Store) RecordBestEffort(ctx context.Context, a Action) Action {
	recorded, err := s.Record(ctx, a)
	if err != nil {
		slog.Error("audit: best-effort write failed", "action_type", a.ActionType, "case_id", a.CaseID, "error", err)
	}
	return recorded
}

// Recent returns the most recently created audit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT action_id, case_id, channel, action_type, payload, result, created_at
		FROM actions ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// ByCase returns every audit row for caseID, oldest first (chronological
// replay order).
func (s *Store) ByCase(ctx context.Context, caseID string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT action_id, case_id, channel, action_type, payload, result, created_at
		FROM actions WHERE case_id = ? ORDER BY created_at ASC LIMIT ?`), caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by case: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]Action, error) {
	var out []Action
	for rows.Next() {
		var a Action
		var payloadJSON string
		var result sql.NullString
		if err := rows.Scan(&a.ActionID, &a.CaseID, &a.Channel, &a.ActionType, &payloadJSON, &result, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Result = result.String
		if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
			return nil, fmt.Errorf("audit: decode payload: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
