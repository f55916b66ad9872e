package store

import "database/sql"

// migrate creates every table this service owns if it does not already
// exist, and runs a handful of best-effort ALTER TABLE ADD COLUMN
// migrations for columns added after the original CREATE TABLE shipped —
// the same tolerant, ignore-duplicate-column-error convention the
// teacher's internal/audit/store.go uses.
func migrate(db *sql.DB, isPostgres bool) error {
	pk := "TEXT PRIMARY KEY"
	timestampType := "TEXT"
	createdAtDefault := "TEXT"
	if isPostgres {
		timestampType = "TIMESTAMPTZ"
		createdAtDefault = "TIMESTAMPTZ DEFAULT NOW()"
	}
	_ = createdAtDefault

	statements := []string{
		`CREATE TABLE IF NOT EXISTS cases (
			case_id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			risk_score INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'open',
			root_signals TEXT,
			updated_at ` + timestampType + `
		)`,
		`CREATE TABLE IF NOT EXISTS kanban_cards (
			card_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			status TEXT NOT NULL,
			blocked_reason TEXT,
			resolved_at ` + timestampType + `,
			last_activity_at ` + timestampType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kanban_cards_case_id ON kanban_cards(case_id)`,
		`CREATE TABLE IF NOT EXISTS materializations (
			materialization_id ` + pk + `,
			endpoint TEXT NOT NULL,
			subject TEXT NOT NULL,
			card_id TEXT NOT NULL,
			case_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			objective TEXT,
			source TEXT,
			created_at ` + timestampType + `,
			expires_at ` + timestampType + `,
			UNIQUE(endpoint, subject, card_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_materializations_card_id ON materializations(card_id)`,
		`CREATE TABLE IF NOT EXISTS pending_actions (
			pending_id ` + pk + `,
			case_id TEXT NOT NULL,
			card_id TEXT,
			materialization_id TEXT,
			status TEXT NOT NULL,
			approval_required INTEGER NOT NULL DEFAULT 0,
			action_type TEXT NOT NULL,
			action_payload TEXT NOT NULL,
			rationale TEXT,
			rank INTEGER NOT NULL DEFAULT 0,
			approved_by TEXT,
			approved_at ` + timestampType + `,
			executed_action_id TEXT,
			execution_result TEXT,
			decision_idempotency_key TEXT,
			decision_request_hash TEXT,
			execution_idempotency_key TEXT,
			execution_request_hash TEXT,
			superseded_by_materialization_id TEXT,
			superseded_at ` + timestampType + `,
			canceled_reason TEXT,
			created_at ` + timestampType + `,
			updated_at ` + timestampType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_case_id ON pending_actions(case_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_card_id ON pending_actions(card_id)`,
		`CREATE TABLE IF NOT EXISTS actions (
			action_id ` + pk + `,
			case_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			action_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			result TEXT,
			created_at ` + timestampType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_case_id ON actions(case_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			response TEXT NOT NULL,
			created_at ` + timestampType + `
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Best-effort additive migrations for columns introduced after the
	// original CREATE TABLE; ignored if the column already exists.
	alterations := []string{
		`ALTER TABLE pending_actions ADD COLUMN canceled_reason TEXT`,
	}
	for _, stmt := range alterations {
		if _, err := db.Exec(stmt); ignoreDuplicateColumn(err) != nil {
			return err
		}
	}

	return nil
}
