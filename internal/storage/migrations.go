package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Gazetteer: station groups and platform-level children
CREATE TABLE IF NOT EXISTS stops (
    stop_id TEXT PRIMARY KEY,
    stop_name TEXT NOT NULL,
    parent_station TEXT,
    location_type INTEGER NOT NULL DEFAULT 0,
    platform_code TEXT,
    city TEXT,
    popularity INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_stops_parent ON stops(parent_station);
CREATE INDEX IF NOT EXISTS idx_stops_name ON stops(stop_name);

-- Precomputed search index, rebuilt by RebuildSearchIndex
CREATE TABLE IF NOT EXISTS stop_search_index (
    stop_id TEXT PRIMARY KEY,
    name_norm TEXT NOT NULL,
    core_norm TEXT NOT NULL,
    group_id TEXT NOT NULL,
    is_parent BOOLEAN NOT NULL DEFAULT 0,
    has_hub_token BOOLEAN NOT NULL DEFAULT 0,
    popularity INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (stop_id) REFERENCES stops(stop_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_search_name ON stop_search_index(name_norm);
CREATE INDEX IF NOT EXISTS idx_search_core ON stop_search_index(core_norm);
CREATE INDEX IF NOT EXISTS idx_search_group ON stop_search_index(group_id);
`

const migrationV1Down = `
DROP TABLE IF EXISTS stop_search_index;
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Curated aliases, stored with their normalized form
CREATE TABLE IF NOT EXISTS stop_aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stop_id TEXT NOT NULL,
    alias_text TEXT NOT NULL,
    alias_norm TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    FOREIGN KEY (stop_id) REFERENCES stops(stop_id) ON DELETE CASCADE,
    UNIQUE(stop_id, alias_norm)
);

CREATE INDEX IF NOT EXISTS idx_aliases_norm ON stop_aliases(alias_norm);

-- Application-level aliases, raw text normalized at query time
CREATE TABLE IF NOT EXISTS app_stop_aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stop_id TEXT NOT NULL,
    alias_text TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_app_aliases_stop ON app_stop_aliases(stop_id);
`

const migrationV11Down = `
DROP TABLE IF EXISTS app_stop_aliases;
DROP TABLE IF EXISTS stop_aliases;
`

// currentSchemaVersion returns the highest applied version, 0.0.0 when none
func currentSchemaVersion(ctx context.Context, db querier) (*semver.Version, error) {
	current := semver.MustParse("0.0.0")

	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	// applied_at has second resolution, so compare versions rather than timestamps
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}
	currentVersion := current.Original()

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentVersion, err)
	}

	// The first migration drops schema_version itself
	if tableExists(ctx, db, "schema_version") {
		if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", currentVersion, err)
		}
	}

	return nil
}
