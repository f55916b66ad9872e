package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateMaterialization is returned by MaterializationRepo.Create
// when (endpoint, subject, card_id, idempotency_key) already has a row,
// per spec.md §3's Materialization uniqueness constraint.
var ErrDuplicateMaterialization = errors.New("store: duplicate materialization")

// MaterializationRepo persists Materialization rows, the record of a
// caller's request to rematerialize a card's pending actions, keyed for
// cross-request idempotent replay via its (endpoint, subject, card_id,
// idempotency_key) unique index.
type MaterializationRepo struct {
	db         *sql.DB
	isPostgres bool
}

// NewMaterializationRepo builds a MaterializationRepo over db.
func NewMaterializationRepo(db *sql.DB, isPostgres bool) *MaterializationRepo {
	return &MaterializationRepo{db: db, isPostgres: isPostgres}
}

// Create inserts a new Materialization row, generating its id and
// expires_at from ttlHours if unset. ErrDuplicateMaterialization signals
// that an identical (endpoint, subject, card_id, idempotency_key) tuple
// already exists.
func (r *MaterializationRepo) Create(ctx context.Context, m Materialization, ttlHours int) (*Materialization, error) {
	if m.MaterializationID == "" {
		m.MaterializationID = "mat_" + uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ExpiresAt.IsZero() {
		if ttlHours <= 0 {
			ttlHours = 24
		}
		m.ExpiresAt = m.CreatedAt.Add(time.Duration(ttlHours) * time.Hour)
	}

	_, err := r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO materializations (
			materialization_id, endpoint, subject, card_id, case_id,
			idempotency_key, request_hash, objective, source, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.MaterializationID, m.Endpoint, m.Subject, m.CardID, m.CaseID,
		m.IdempotencyKey, m.RequestHash, m.Objective, m.Source, m.CreatedAt, m.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateMaterialization
		}
		return nil, fmt.Errorf("store: insert materialization: %w", err)
	}
	return &m, nil
}

// Get loads a single materialization by id.
func (r *MaterializationRepo) Get(ctx context.Context, materializationID string) (*Materialization, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `
		SELECT materialization_id, endpoint, subject, card_id, case_id,
			idempotency_key, request_hash, objective, source, created_at, expires_at
		FROM materializations WHERE materialization_id = ?`), materializationID)
	m, err := scanMaterialization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// FindByScope looks up an existing materialization by its natural
// idempotency scope, for request-level replay detection ahead of insert.
func (r *MaterializationRepo) FindByScope(ctx context.Context, endpoint, subject, cardID, idempotencyKey string) (*Materialization, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `
		SELECT materialization_id, endpoint, subject, card_id, case_id,
			idempotency_key, request_hash, objective, source, created_at, expires_at
		FROM materializations WHERE endpoint = ? AND subject = ? AND card_id = ? AND idempotency_key = ?`),
		endpoint, subject, cardID, idempotencyKey)
	m, err := scanMaterialization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanMaterialization(row *sql.Row) (*Materialization, error) {
	var m Materialization
	var objective, source sql.NullString
	if err := row.Scan(&m.MaterializationID, &m.Endpoint, &m.Subject, &m.CardID, &m.CaseID,
		&m.IdempotencyKey, &m.RequestHash, &objective, &source, &m.CreatedAt, &m.ExpiresAt); err != nil {
		return nil, err
	}
	if objective.Valid {
		m.Objective = objective.String
	}
	if source.Valid {
		m.Source = source.String
	}
	return &m, nil
}
