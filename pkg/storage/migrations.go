package storage

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations is the registry of all database migrations in order.
// Each migration must have a unique version number and will be applied
// in ascending order. Migrations are idempotent and transactional.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with resolutions and host_stats tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS resolutions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				source_url TEXT NOT NULL,
				source_host TEXT NOT NULL,
				final_url TEXT,
				outcome TEXT NOT NULL,
				failure_reason TEXT,
				request_mode TEXT NOT NULL,
				redirect_count INTEGER NOT NULL DEFAULT 0,
				duration_ms REAL NOT NULL DEFAULT 0,
				cached BOOLEAN NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_resolutions_timestamp ON resolutions(timestamp);
			CREATE INDEX IF NOT EXISTS idx_resolutions_source_host ON resolutions(source_host);
			CREATE INDEX IF NOT EXISTS idx_resolutions_outcome ON resolutions(outcome);

			CREATE TABLE IF NOT EXISTS host_stats (
				host TEXT PRIMARY KEY,
				count INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				last_resolved DATETIME
			);
		`,
	},
	{
		Version:     2,
		Description: "Add composite indexes for time-range analytics",
		SQL: `
			-- Speeds up: SELECT * FROM resolutions WHERE source_host = ? AND timestamp BETWEEN ? AND ?
			CREATE INDEX IF NOT EXISTS idx_resolutions_host_timestamp ON resolutions(source_host, timestamp);

			-- Speeds up: aggregation over outcome with a timestamp filter
			CREATE INDEX IF NOT EXISTS idx_resolutions_timestamp_outcome ON resolutions(timestamp, outcome, cached);
		`,
	},
}

// getMigrations returns all migrations sorted by version
func getMigrations() []Migration {
	result := make([]Migration, len(migrations))
	copy(result, migrations)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	return result
}

// getCurrentVersion returns the current schema version from the database.
// Returns 0 if schema_version table doesn't exist (fresh database).
func getCurrentVersion(db *sql.DB) (int, error) {
	var tableExists bool
	err := db.QueryRow(`
		SELECT 1 FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}

	return version, nil
}

// applyMigration applies a single migration within a transaction
func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
	`, migration.Version); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// runMigrations applies all pending migrations in order. Each migration runs
// in its own transaction; a failure leaves the database at the last
// successfully applied version.
func runMigrations(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf(
				"failed to apply migration v%d (%s): %w",
				migration.Version,
				migration.Description,
				err,
			)
		}
	}

	return nil
}
