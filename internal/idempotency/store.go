// Package idempotency implements canonical-JSON request hashing and the
// global idempotency-key store used by the public execute endpoint, plus
// the scoped-key derivation used by pending-action decide/execute.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"governor/internal/canonicaljson"
)

// RequestHash returns the SHA-256 hash of v's canonical JSON encoding.
func RequestHash(v any) (string, error) {
	return canonicaljson.Hash(v)
}

// ScopedKey derives the per-phase idempotency key used by pending-action
// decide/execute, per spec.md §4.6: SHA-256(endpoint | subject | card_id |
// raw_key). cardID is the empty string for card-less pending actions, per
// the open-question decision in DESIGN.md.
func ScopedKey(endpoint, subject, cardID, rawKey string) string {
	joined := strings.Join([]string{endpoint, subject, cardID, rawKey}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Store persists the global IdempotencyKey table used by
// POST /actions/execute's Idempotency-Key header.
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

// ErrConflict is returned by CheckOrReplay when the stored request hash
// differs from the caller's, i.e. Idempotency-Key reuse with a different
// payload.
var ErrConflict = errors.New("idempotency: key reuse with different payload")

// CheckOrReplay implements spec.md §4.6's check_or_replay: no row returns
// (false, nil, nil); a matching-hash row returns (true, storedResponse,
// nil); a mismatched-hash row returns (false, nil, ErrConflict).
func (s *Store) CheckOrReplay(ctx context.Context, key, reqHash string) (replayed bool, response json.RawMessage, err error) {
	var storedHash string
	var storedResponse string
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT request_hash, response FROM idempotency_keys WHERE key = ?`), key)
	if err := row.Scan(&storedHash, &storedResponse); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if storedHash != reqHash {
		return false, nil, ErrConflict
	}
	return true, json.RawMessage(storedResponse), nil
}

// Store inserts a new idempotency row. A race against a concurrent insert
// on the same key is tolerated: a unique-constraint violation is treated
// as "someone else won", and the caller should re-run CheckOrReplay to
// observe the winning response, per spec.md §4.6.
func (s *Store) Store(ctx context.Context, key, reqHash string, response any) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("idempotency: marshal response: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO idempotency_keys (key, request_hash, response, created_at)
		VALUES (?, ?, ?, ?)`), key, reqHash, string(responseJSON), time.Now().UTC())
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
