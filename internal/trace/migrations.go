package trace

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the trace tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		ts            TEXT NOT NULL,
		kind          TEXT NOT NULL,
		atom_id       INTEGER NOT NULL DEFAULT 0,
		connection_id TEXT NOT NULL DEFAULT '',
		slot          INTEGER NOT NULL DEFAULT -1,
		priority      TEXT NOT NULL DEFAULT '',
		result        TEXT NOT NULL DEFAULT '',
		latency_ns    INTEGER NOT NULL DEFAULT 0,
		detail        TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_events_atom_id ON events(atom_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_connection_id ON events(connection_id)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
