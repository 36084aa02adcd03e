package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/stopsearch/internal/textnorm"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStore implements Gazetteer using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens the gazetteer at dbPath and applies migrations
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for migration tooling
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dialect implements DialectStore
func (s *SQLiteStore) Dialect() Dialect {
	return DialectSQLite
}

// Query implements Store
func (s *SQLiteStore) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryRows(ctx, s.db, query, args...)
}

// QueryWithTimeout implements TimeoutStore. Both drivers interrupt the
// running statement when the context expires.
func (s *SQLiteStore) QueryWithTimeout(ctx context.Context, timeout time.Duration, query string, args ...any) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return queryRows(ctx, s.db, query, args...)
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertStop(ctx context.Context, stop *Stop) error {
	return upsertStop(ctx, t.tx, stop)
}

func (t *sqliteTx) UpsertAlias(ctx context.Context, alias *Alias) error {
	return upsertAlias(ctx, t.tx, alias)
}

// queryRows scans every row of a query into column-keyed maps
func queryRows(ctx context.Context, q querier, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Stop operations

func upsertStop(ctx context.Context, q querier, stop *Stop) error {
	if stop.ID == "" || stop.Name == "" {
		return fmt.Errorf("stop id and name are required")
	}
	query := `
		INSERT INTO stops (stop_id, stop_name, parent_station, location_type, platform_code, city, popularity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stop_id) DO UPDATE SET
			stop_name = excluded.stop_name,
			parent_station = excluded.parent_station,
			location_type = excluded.location_type,
			platform_code = excluded.platform_code,
			city = excluded.city,
			popularity = excluded.popularity
	`
	_, err := q.ExecContext(ctx, query,
		stop.ID, stop.Name, nullString(stop.ParentStation), stop.LocationType,
		nullString(stop.PlatformCode), nullString(stop.City), stop.Popularity)
	if err != nil {
		return fmt.Errorf("failed to upsert stop %s: %w", stop.ID, err)
	}
	return nil
}

// UpsertStop inserts or replaces a stop
func (s *SQLiteStore) UpsertStop(ctx context.Context, stop *Stop) error {
	return upsertStop(ctx, s.db, stop)
}

// GetStop loads a stop by id
func (s *SQLiteStore) GetStop(ctx context.Context, stopID string) (*Stop, error) {
	query := `
		SELECT stop_id, stop_name, parent_station, location_type, platform_code, city, popularity
		FROM stops
		WHERE stop_id = ?
	`
	var stop Stop
	var parent, platform, city sql.NullString
	err := s.db.QueryRowContext(ctx, query, stopID).Scan(
		&stop.ID, &stop.Name, &parent, &stop.LocationType, &platform, &city, &stop.Popularity,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	stop.ParentStation = parent.String
	stop.PlatformCode = platform.String
	stop.City = city.String
	return &stop, nil
}

// Alias operations

func upsertAlias(ctx context.Context, q querier, alias *Alias) error {
	norm := textnorm.Normalize(alias.Text)
	if alias.StopID == "" || norm == "" {
		return fmt.Errorf("alias needs a stop id and non-empty text")
	}
	weight := alias.Weight
	if weight <= 0 {
		weight = 1
	}
	query := `
		INSERT INTO stop_aliases (stop_id, alias_text, alias_norm, weight)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stop_id, alias_norm) DO UPDATE SET
			alias_text = excluded.alias_text,
			weight = excluded.weight
	`
	if _, err := q.ExecContext(ctx, query, alias.StopID, alias.Text, norm, weight); err != nil {
		return fmt.Errorf("failed to upsert alias for %s: %w", alias.StopID, err)
	}
	return nil
}

// UpsertAlias stores a curated alias with its normalized form
func (s *SQLiteStore) UpsertAlias(ctx context.Context, alias *Alias) error {
	return upsertAlias(ctx, s.db, alias)
}

// AddAppAlias stores an application-level alias as raw text; it is
// normalized at query time by the stop_norm function.
func (s *SQLiteStore) AddAppAlias(ctx context.Context, alias *Alias) error {
	if alias.StopID == "" || alias.Text == "" {
		return fmt.Errorf("alias needs a stop id and text")
	}
	weight := alias.Weight
	if weight <= 0 {
		weight = 1
	}
	query := `INSERT INTO app_stop_aliases (stop_id, alias_text, weight) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, alias.StopID, alias.Text, weight); err != nil {
		return fmt.Errorf("failed to add app alias for %s: %w", alias.StopID, err)
	}
	return nil
}

// Search index

// indexEntry is one precomputed stop_search_index row
type indexEntry struct {
	stopID     string
	nameNorm   string
	coreNorm   string
	groupID    string
	isParent   bool
	hasHub     bool
	popularity int
}

// RebuildSearchIndex recomputes stop_search_index from stops using the same
// normalizer as the search path. It returns the number of rows written.
func (s *SQLiteStore) RebuildSearchIndex(ctx context.Context) (int, error) {
	rows, err := queryRows(ctx, s.db, `
		SELECT stop_id, stop_name, parent_station, location_type, popularity
		FROM stops
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to read stops: %w", err)
	}

	entries := make([]indexEntry, 0, len(rows))
	for _, r := range rows {
		id := r.Text("stop_id")
		parent := r.Text("parent_station")
		nameNorm := textnorm.Normalize(r.Text("stop_name"))
		if id == "" || nameNorm == "" {
			continue
		}
		entries = append(entries, indexEntry{
			stopID:     id,
			nameNorm:   nameNorm,
			coreNorm:   textnorm.StripStopWords(nameNorm),
			groupID:    GroupID(id, parent),
			isParent:   ParentLike(id, parent, r.Int("location_type")),
			hasHub:     textnorm.HasHubToken(nameNorm),
			popularity: r.Int("popularity"),
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stop_search_index"); err != nil {
		return 0, fmt.Errorf("failed to clear search index: %w", err)
	}
	insert := `
		INSERT INTO stop_search_index (stop_id, name_norm, core_norm, group_id, is_parent, has_hub_token, popularity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, insert,
			e.stopID, e.nameNorm, e.coreNorm, e.groupID, e.isParent, e.hasHub, e.popularity); err != nil {
			return 0, fmt.Errorf("failed to index stop %s: %w", e.stopID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Status operations

// Status reports gazetteer statistics
func (s *SQLiteStore) Status(ctx context.Context) (*Status, error) {
	status := &Status{Dialect: DialectSQLite}

	version, err := currentSchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	counts := []struct {
		table string
		where string
		dst   *int
	}{
		{"stops", "", &status.Stops},
		{"stops", "WHERE parent_station IS NULL OR location_type = 1", &status.Parents},
		{"stop_search_index", "", &status.IndexRows},
		{"stop_aliases", "", &status.Aliases},
		{"app_stop_aliases", "", &status.AppAliases},
	}
	for _, c := range counts {
		if !tableExists(ctx, s.db, c.table) {
			continue
		}
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.table, c.where)
		if err := s.db.QueryRowContext(ctx, query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

func tableExists(ctx context.Context, q querier, name string) bool {
	var found string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name = ?", name).Scan(&found)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
