package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no pending action matches the requested id.
var ErrNotFound = errors.New("pending: not found")

// Store persists PendingAction rows with row-level locking for the
// lifecycle mutations that must observe-then-mutate atomically (spec.md
// §5), grounded on the teacher's internal/audit/approval_store.go raw-SQL
// CRUD conventions.
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

// BeginTx starts a transaction. On SQLite this relies on database/sql's
// single-writer serialization under WAL; on Postgres the lifecycle
// methods additionally issue SELECT ... FOR UPDATE so concurrent
// transactions against the same row block rather than race, satisfying
// spec.md §5's row-level-locking requirement.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Create inserts a new PendingAction row.
func (s *Store) Create(ctx context.Context, tx *sql.Tx, p *PendingAction) error {
	if p.PendingID == "" {
		p.PendingID = "pa_" + uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	payloadJSON, err := json.Marshal(p.ActionPayload)
	if err != nil {
		return fmt.Errorf("pending: marshal action_payload: %w", err)
	}

	exec := s.execer(tx)
	_, err = exec.ExecContext(ctx, s.rebind(`
		INSERT INTO pending_actions (
			pending_id, case_id, card_id, materialization_id, status, approval_required,
			action_type, action_payload, rationale, rank, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.PendingID, p.CaseID, p.CardID, p.MaterializationID, string(p.Status), boolInt(p.ApprovalRequired),
		p.ActionType, string(payloadJSON), p.Rationale, p.Rank, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pending: insert: %w", err)
	}
	return nil
}

// Get loads a pending action by id, optionally within tx with a
// row-level lock (FOR UPDATE on Postgres) so the caller can safely
// read-modify-write.
func (s *Store) Get(ctx context.Context, tx *sql.Tx, pendingID string, forUpdate bool) (*PendingAction, error) {
	query := s.selectQuery() + " WHERE pending_id = ?"
	if forUpdate && s.isPostgres {
		query += " FOR UPDATE"
	}
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, s.rebind(query), pendingID)
	} else {
		row = s.db.QueryRowContext(ctx, s.rebind(query), pendingID)
	}
	p, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListByCase returns pending actions for caseID sorted by rank ascending,
// then created_at ascending, per SPEC_FULL's C8 ordering supplement.
func (s *Store) ListByCase(ctx context.Context, caseID string) ([]PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		s.selectQuery()+" WHERE case_id = ? ORDER BY rank ASC, created_at ASC"), caseID)
	if err != nil {
		return nil, fmt.Errorf("pending: list by case: %w", err)
	}
	defer rows.Close()
	return scanPendingActions(rows)
}

// ListByCard returns pending actions for cardID, same ordering as
// ListByCase.
func (s *Store) ListByCard(ctx context.Context, tx *sql.Tx, cardID string) ([]PendingAction, error) {
	query := s.rebind(s.selectQuery() + " WHERE card_id = ? ORDER BY rank ASC, created_at ASC")
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, cardID)
	} else {
		rows, err = s.db.QueryContext(ctx, query, cardID)
	}
	if err != nil {
		return nil, fmt.Errorf("pending: list by card: %w", err)
	}
	defer rows.Close()
	return scanPendingActions(rows)
}

// List returns every pending action, most recently created first.
func (s *Store) List(ctx context.Context, limit int) ([]PendingAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		s.selectQuery()+" ORDER BY created_at DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("pending: list: %w", err)
	}
	defer rows.Close()
	return scanPendingActions(rows)
}

// Update persists the full mutable state of p within tx.
func (s *Store) Update(ctx context.Context, tx *sql.Tx, p *PendingAction) error {
	p.UpdatedAt = time.Now().UTC()
	exec := s.execer(tx)
	_, err := exec.ExecContext(ctx, s.rebind(`
		UPDATE pending_actions SET
			status = ?, approved_by = ?, approved_at = ?,
			executed_action_id = ?, execution_result = ?,
			decision_idempotency_key = ?, decision_request_hash = ?,
			execution_idempotency_key = ?, execution_request_hash = ?,
			superseded_by_materialization_id = ?, superseded_at = ?, canceled_reason = ?,
			updated_at = ?
		WHERE pending_id = ?`),
		string(p.Status), p.ApprovedBy, p.ApprovedAt,
		p.ExecutedActionID, p.ExecutionResult,
		p.DecisionIdempotencyKey, p.DecisionRequestHash,
		p.ExecutionIdempotencyKey, p.ExecutionRequestHash,
		p.SupersededByMaterializationID, p.SupersededAt, p.CanceledReason,
		p.UpdatedAt, p.PendingID)
	if err != nil {
		return fmt.Errorf("pending: update: %w", err)
	}
	return nil
}

func (s *Store) execer(tx *sql.Tx) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) selectQuery() string {
	return `SELECT pending_id, case_id, card_id, materialization_id, status, approval_required,
		action_type, action_payload, rationale, rank,
		approved_by, approved_at, executed_action_id, execution_result,
		decision_idempotency_key, decision_request_hash,
		execution_idempotency_key, execution_request_hash,
		superseded_by_materialization_id, superseded_at, canceled_reason,
		created_at, updated_at
		FROM pending_actions`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(row *sql.Row) (*PendingAction, error) {
	return scanPendingActionFrom(row)
}

func scanPendingActions(rows *sql.Rows) ([]PendingAction, error) {
	var out []PendingAction
	for rows.Next() {
		p, err := scanPendingActionFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPendingActionFrom(s rowScanner) (*PendingAction, error) {
	var p PendingAction
	var cardID, materializationID sql.NullString
	var status string
	var approvalRequired int
	var payloadJSON string
	var approvedBy, executedActionID, executionResult sql.NullString
	var decisionIdemKey, decisionReqHash, executionIdemKey, executionReqHash sql.NullString
	var supersededBy, canceledReason sql.NullString
	var approvedAt, supersededAt sql.NullTime

	if err := s.Scan(
		&p.PendingID, &p.CaseID, &cardID, &materializationID, &status, &approvalRequired,
		&p.ActionType, &payloadJSON, &p.Rationale, &p.Rank,
		&approvedBy, &approvedAt, &executedActionID, &executionResult,
		&decisionIdemKey, &decisionReqHash, &executionIdemKey, &executionReqHash,
		&supersededBy, &supersededAt, &canceledReason,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = Status(status)
	p.ApprovalRequired = approvalRequired != 0
	if cardID.Valid {
		p.CardID = &cardID.String
	}
	if materializationID.Valid {
		p.MaterializationID = &materializationID.String
	}
	if err := json.Unmarshal([]byte(payloadJSON), &p.ActionPayload); err != nil {
		return nil, fmt.Errorf("pending: decode action_payload: %w", err)
	}
	if approvedBy.Valid {
		p.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		p.ApprovedAt = &t
	}
	if executedActionID.Valid {
		p.ExecutedActionID = &executedActionID.String
	}
	if executionResult.Valid {
		p.ExecutionResult = &executionResult.String
	}
	if decisionIdemKey.Valid {
		p.DecisionIdempotencyKey = &decisionIdemKey.String
	}
	if decisionReqHash.Valid {
		p.DecisionRequestHash = &decisionReqHash.String
	}
	if executionIdemKey.Valid {
		p.ExecutionIdempotencyKey = &executionIdemKey.String
	}
	if executionReqHash.Valid {
		p.ExecutionRequestHash = &executionReqHash.String
	}
	if supersededBy.Valid {
		p.SupersededByMaterializationID = &supersededBy.String
	}
	if supersededAt.Valid {
		t := supersededAt.Time
		p.SupersededAt = &t
	}
	if canceledReason.Valid {
		p.CanceledReason = &canceledReason.String
	}
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
