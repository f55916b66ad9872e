package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// CleanupWorker periodically deletes expired materializations, allowing
// their external Idempotency-Key / scoped key to be reused, per spec.md
// §4.6's TTL cleanup. Grounded on the teacher's
// cmd/auditd/approval_handlers.go startExpirationWorker ticker loop.
type CleanupWorker struct {
	db         *sql.DB
	isPostgres bool
	ttl        time.Duration
	interval   time.Duration
}

// NewCleanupWorker builds a worker that deletes materializations rows
// whose created_at is older than ttl, running every interval.
func NewCleanupWorker(db *sql.DB, isPostgres bool, ttl, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{db: db, isPostgres: isPostgres, ttl: ttl, interval: interval}
}

// Run blocks, ticking until ctx is canceled.
func (w *CleanupWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.cleanupOnce(ctx)
			if err != nil {
				slog.Error("idempotency: ttl cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("idempotency: ttl cleanup removed expired materializations", "count", n)
			}
		}
	}
}

func (w *CleanupWorker) cleanupOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-w.ttl).UTC()
	query := "DELETE FROM materializations WHERE created_at < ?"
	if w.isPostgres {
		query = "DELETE FROM materializations WHERE created_at < $1"
	}
	res, err := w.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idempotency: delete expired materializations: %w", err)
	}
	return res.RowsAffected()
}
