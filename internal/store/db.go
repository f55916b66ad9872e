// Package store holds the relational persistence layer: the dual
// Postgres/SQLite connection opener shared by every repository, and the
// Case/KanbanCard/Materialization repositories themselves.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open opens a *sql.DB against dsn, selecting the Postgres driver when the
// DSN carries a postgres(ql):// scheme and the embeddable SQLite driver
// otherwise, mirroring the teacher's internal/audit/store.go backend
// selection. It also runs schema migrations for every table this service
// owns.
func Open(dsn string) (*sql.DB, bool, error) {
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	driver := "sqlite"
	if isPostgres {
		driver = "pgx"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, false, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if !isPostgres {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, false, fmt.Errorf("store: set WAL mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
			db.Close()
			return nil, false, fmt.Errorf("store: enable foreign keys: %w", err)
		}
	}

	if err := migrate(db, isPostgres); err != nil {
		db.Close()
		return nil, false, err
	}

	return db, isPostgres, nil
}

// rebind rewrites `?` placeholders into Postgres's `$N` form when
// isPostgres is true, leaving SQLite queries untouched. Grounded on the
// teacher's internal/audit/store.go rebind helper.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ignoreDuplicateColumn swallows the backend-specific error both SQLite
// and Postgres raise when an ALTER TABLE ADD COLUMN targets a column that
// already exists — the same best-effort migration tolerance the teacher's
// store.go uses.
func ignoreDuplicateColumn(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
		return nil
	}
	return err
}

// isUniqueViolation reports whether err is a unique/duplicate-key
// constraint failure from either backend driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
