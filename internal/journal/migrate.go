package journal

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in the
// schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "runs and run_messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			hostname    TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			final       TEXT,
			turns       INTEGER DEFAULT 0,
			tool_calls  INTEGER DEFAULT 0,
			notified    INTEGER DEFAULT 0,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS run_messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT,
			tool_calls   TEXT,
			tool_call_id TEXT,
			tool_name    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_run_messages_run ON run_messages(run_id, seq);
		`,
	},
	{
		Version:     2,
		Description: "run mode, provider, addresses and error",
		SQL: `
		ALTER TABLE runs ADD COLUMN mode TEXT DEFAULT 'agent';
		ALTER TABLE runs ADD COLUMN provider TEXT;
		ALTER TABLE runs ADD COLUMN previous_ip TEXT;
		ALTER TABLE runs ADD COLUMN new_ip TEXT;
		ALTER TABLE runs ADD COLUMN changed INTEGER DEFAULT 0;
		ALTER TABLE runs ADD COLUMN error TEXT;
		CREATE INDEX IF NOT EXISTS idx_runs_host ON runs(hostname, started_at);
		`,
	},
}

// RunMigrations brings db up to the latest schema version.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			// A journal created by an older build may already carry some
			// of the columns; apply statement by statement instead.
			logger.Warn("migration batch failed, retrying per statement", zap.Int("version", m.Version), zap.Error(err))
			if err := applyStatements(db, m, logger); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("record migration v%d: %w", m.Version, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration v%d: %w", m.Version, err)
			}
		}
		logger.Debug("migration applied", zap.Int("version", m.Version))
	}
	return nil
}

// applyStatements runs each statement of m on its own, skipping the ones
// that fail because their effect is already present.
func applyStatements(db *sql.DB, m migration, logger *zap.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped", zap.String("stmt", truncate(stmt, 60)))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func splitSQL(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetSchemaVersion returns the applied schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
