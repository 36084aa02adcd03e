package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect identifies the SQL flavour a Store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Store is the read contract the search engine needs from the gazetteer.
// Queries use ? placeholders.
type Store interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
}

// TimeoutStore is a Store that can bound a single query server-side.
type TimeoutStore interface {
	Store
	QueryWithTimeout(ctx context.Context, timeout time.Duration, query string, args ...any) ([]Row, error)
}

// DialectStore reports its SQL dialect. Stores without it are treated as SQLite.
type DialectStore interface {
	Dialect() Dialect
}

// DialectOf returns the dialect of s.
func DialectOf(s Store) Dialect {
	if ds, ok := s.(DialectStore); ok {
		return ds.Dialect()
	}
	return DialectSQLite
}

// QueryBounded runs query with timeout when s supports it and falls back to
// a plain Query otherwise.
func QueryBounded(ctx context.Context, s Store, timeout time.Duration, query string, args ...any) ([]Row, error) {
	if ts, ok := s.(TimeoutStore); ok && timeout > 0 {
		return ts.QueryWithTimeout(ctx, timeout, query, args...)
	}
	return s.Query(ctx, query, args...)
}

// Gazetteer is the write side of the stop store used by data-maintenance tooling.
type Gazetteer interface {
	Store

	UpsertStop(ctx context.Context, stop *Stop) error
	UpsertAlias(ctx context.Context, alias *Alias) error
	AddAppAlias(ctx context.Context, alias *Alias) error
	RebuildSearchIndex(ctx context.Context) (int, error)
	Status(ctx context.Context) (*Status, error)

	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx batches gazetteer writes.
type Tx interface {
	Commit() error
	Rollback() error
	UpsertStop(ctx context.Context, stop *Stop) error
	UpsertAlias(ctx context.Context, alias *Alias) error
}

// Stop is one gazetteer record: a station group or a platform-level child.
type Stop struct {
	ID            string
	Name          string
	ParentStation string // Empty for top-level stops
	LocationType  int    // GTFS location_type: 0 stop/platform, 1 station
	PlatformCode  string
	City          string
	Popularity    int
}

// Alias is an alternative name for a stop.
type Alias struct {
	StopID string
	Text   string
	Weight float64
}

// Status contains statistics about the gazetteer.
type Status struct {
	Dialect       Dialect
	SchemaVersion string
	Stops         int
	Parents       int
	IndexRows     int
	Aliases       int
	AppAliases    int
	SizeMB        float64
}

// ParentLike reports whether a stop represents a station group rather than
// a platform: it has no parent, is a GTFS station, or carries the "Parent"
// id prefix used by group ids.
func ParentLike(id, parentStation string, locationType int) bool {
	return parentStation == "" || locationType == 1 || strings.HasPrefix(id, "Parent")
}

// GroupID returns the station group a stop belongs to.
func GroupID(id, parentStation string) string {
	if parentStation != "" {
		return parentStation
	}
	return id
}

// Text returns the column as a string, "" when absent or NULL.
func (r Row) Text(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the column as a float64, 0 when absent or not numeric.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case int:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	default:
		return 0
	}
}

// Int returns the column as an int.
func (r Row) Int(key string) int {
	return int(r.Float(key))
}

// Bool returns the column as a bool; SQLite integers are non-zero true.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		return v == "t"
	default:
		return r.Float(key) != 0
	}
}

// Has reports whether the column is present and not NULL.
func (r Row) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}
