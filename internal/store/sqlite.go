// ABOUTME: SQLite-backed ledger for admission verdicts, task events, and usage
// ABOUTME: Observational only; the in-memory fleet store stays authoritative

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Ledger is the durable record of what the control plane decided and
// spent. It is written best-effort beside the in-memory fleet store and
// read only by the dashboard API.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a SQLite ledger at the given path, creating parent
// directories and the schema as needed.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent dashboard reads during writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{
		db:     db,
		logger: logger.With("component", "ledger"),
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	l.logger.Info("ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the ledger tables if they don't exist.
func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS admission_decisions (
			id            TEXT PRIMARY KEY,
			instance_id   TEXT NOT NULL,
			registry_id   TEXT NOT NULL,
			action_type   TEXT NOT NULL,
			tool_name     TEXT,
			connector_id  TEXT,
			allowed       INTEGER NOT NULL,
			gate          TEXT,
			reason        TEXT,
			escalate_to   TEXT,
			ts            TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_instance
			ON admission_decisions(instance_id, ts);
		CREATE INDEX IF NOT EXISTS idx_decisions_allowed
			ON admission_decisions(allowed, ts);

		CREATE TABLE IF NOT EXISTS task_events (
			id      TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			event   TEXT NOT NULL,
			detail  TEXT,
			ts      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_task_events_task
			ON task_events(task_id, ts);

		CREATE TABLE IF NOT EXISTS usage_samples (
			id          TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			tokens      INTEGER NOT NULL,
			cost_usd    REAL NOT NULL,
			ts          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_instance
			ON usage_samples(instance_id, ts);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
