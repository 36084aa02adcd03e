// Package storage provides the stop gazetteer and the query contract the
// search engine reads it through.
//
// The read side is deliberately small: a Store answers SQL text with ?
// placeholders and returns rows keyed by column name. A TimeoutStore can
// additionally bound one query, and a DialectStore says which SQL flavour
// it speaks so capability probes can be phrased correctly.
//
// # Backends
//
//   - SQLiteStore: embedded gazetteer with versioned migrations. Every
//     connection gets stop_norm, stop_strip, unaccent and similarity
//     registered as scalar functions, so the full search strategy runs
//     without extensions.
//   - PostgresStore: read-only access to a gazetteer maintained elsewhere,
//     using pg_trgm and unaccent.
//
// # Database Schema
//
// Tables:
//   - stops: station groups and platform-level children (GTFS stops.txt)
//   - stop_search_index: normalized name, core name, group id and flags
//   - stop_aliases: curated aliases with their normalized form
//   - app_stop_aliases: raw application aliases, normalized at query time
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore("stops.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	_ = store.UpsertStop(ctx, &storage.Stop{ID: "8503000", Name: "Zürich HB", LocationType: 1})
//	_, _ = store.RebuildSearchIndex(ctx)
//
//	rows, err := store.Query(ctx, "SELECT stop_name FROM stops WHERE stop_id = ?", "8503000")
//
// # Build Modes
//
// The default build uses modernc.org/sqlite. Building with the sqlite_cgo
// tag switches to github.com/mattn/go-sqlite3.
package storage
