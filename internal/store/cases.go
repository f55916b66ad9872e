package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by repository Get* methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// CaseRepo reads Case rows. Case creation/mutation beyond risk_score is
// owned by the external signal-ingestion collaborator (out of scope per
// spec.md §1); this service only reads cases and records their risk score
// at decision time.
type CaseRepo struct {
	db         *sql.DB
	isPostgres bool
}

// NewCaseRepo builds a CaseRepo over db.
func NewCaseRepo(db *sql.DB, isPostgres bool) *CaseRepo {
	return &CaseRepo{db: db, isPostgres: isPostgres}
}

// Get loads a single case by id.
func (r *CaseRepo) Get(ctx context.Context, caseID string) (*Case, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `
		SELECT case_id, resource_id, risk_score, confidence, status, root_signals, updated_at
		FROM cases WHERE case_id = ?`), caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns every case, most recently updated first.
func (r *CaseRepo) List(ctx context.Context, limit int) ([]Case, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, rebind(r.isPostgres, `
		SELECT case_id, resource_id, risk_score, confidence, status, root_signals, updated_at
		FROM cases ORDER BY updated_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list cases: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a case's mutable fields (risk_score,
// confidence, status). Used by the test harness and by the (out-of-scope)
// signal ingestion collaborator's write path, stubbed here only so tests
// can seed fixtures without a second backend.
func (r *CaseRepo) Upsert(ctx context.Context, c Case) error {
	signals := strings.Join(c.RootSignals, ",")
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO cases (case_id, resource_id, risk_score, confidence, status, root_signals, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			resource_id = excluded.resource_id,
			risk_score = excluded.risk_score,
			confidence = excluded.confidence,
			status = excluded.status,
			root_signals = excluded.root_signals,
			updated_at = excluded.updated_at`),
		c.CaseID, c.ResourceID, c.RiskScore, c.Confidence, c.Status, signals, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert case: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row *sql.Row) (*Case, error) {
	return scanCaseFrom(row)
}

func scanCaseRows(rows *sql.Rows) (*Case, error) {
	return scanCaseFrom(rows)
}

func scanCaseFrom(s rowScanner) (*Case, error) {
	var c Case
	var signals sql.NullString
	if err := s.Scan(&c.CaseID, &c.ResourceID, &c.RiskScore, &c.Confidence, &c.Status, &signals, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if signals.Valid && signals.String != "" {
		c.RootSignals = strings.Split(signals.String, ",")
	}
	return &c, nil
}
