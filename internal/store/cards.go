package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CardRepo reads and mutates KanbanCard rows. Status transitions are the
// only mutation this service performs; everything else about a card is
// owned by the UI/materialization collaborators.
type CardRepo struct {
	db         *sql.DB
	isPostgres bool
}

// NewCardRepo builds a CardRepo over db.
func NewCardRepo(db *sql.DB, isPostgres bool) *CardRepo {
	return &CardRepo{db: db, isPostgres: isPostgres}
}

// Get loads a single card by id.
func (r *CardRepo) Get(ctx context.Context, cardID string) (*KanbanCard, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `
		SELECT card_id, case_id, status, blocked_reason, resolved_at, last_activity_at
		FROM kanban_cards WHERE card_id = ?`), cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListByCase returns every card belonging to caseID.
func (r *CardRepo) ListByCase(ctx context.Context, caseID string) ([]KanbanCard, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.isPostgres, `
		SELECT card_id, case_id, status, blocked_reason, resolved_at, last_activity_at
		FROM kanban_cards WHERE case_id = ? ORDER BY last_activity_at DESC`), caseID)
	if err != nil {
		return nil, fmt.Errorf("store: list cards: %w", err)
	}
	defer rows.Close()

	var out []KanbanCard
	for rows.Next() {
		c, err := scanCardRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a card; used by fixture seeding and tests.
func (r *CardRepo) Upsert(ctx context.Context, c KanbanCard) error {
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO kanban_cards (card_id, case_id, status, blocked_reason, resolved_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			case_id = excluded.case_id,
			status = excluded.status,
			blocked_reason = excluded.blocked_reason,
			resolved_at = excluded.resolved_at,
			last_activity_at = excluded.last_activity_at`),
		c.CardID, c.CaseID, c.Status, c.BlockedReason, c.ResolvedAt, c.LastActivityAt)
	if err != nil {
		return fmt.Errorf("store: upsert card: %w", err)
	}
	return nil
}

// UpdateStatus mutates a card's status (and blocked_reason/resolved_at)
// within the caller's transaction, used by the execution pipeline's
// UpdateCardStatus handling (spec.md §4.7). tx may be nil to run outside
// a transaction.
func (r *CardRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, cardID, newStatus string, blockedReason *string, resolvedAt *time.Time) error {
	exec := anyExecer(r.db, tx)
	_, err := exec.ExecContext(ctx, rebind(r.isPostgres, `
		UPDATE kanban_cards
		SET status = ?, blocked_reason = ?, resolved_at = ?, last_activity_at = ?
		WHERE card_id = ?`), newStatus, blockedReason, resolvedAt, time.Now().UTC(), cardID)
	if err != nil {
		return fmt.Errorf("store: update card status: %w", err)
	}
	return nil
}

func scanCard(row *sql.Row) (*KanbanCard, error) {
	return scanCardFrom(row)
}

func scanCardRows(rows *sql.Rows) (*KanbanCard, error) {
	return scanCardFrom(rows)
}

func scanCardFrom(s rowScanner) (*KanbanCard, error) {
	var c KanbanCard
	var blockedReason sql.NullString
	var resolvedAt sql.NullTime
	if err := s.Scan(&c.CardID, &c.CaseID, &c.Status, &blockedReason, &resolvedAt, &c.LastActivityAt); err != nil {
		return nil, err
	}
	if blockedReason.Valid {
		c.BlockedReason = &blockedReason.String
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return &c, nil
}

// execer abstracts *sql.DB / *sql.Tx so repository methods can run inside
// an optional caller-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func anyExecer(db *sql.DB, tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return db
}
