package stopsearch

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/stopsearch/internal/storage"
)

// fixtureStops is a small Swiss gazetteer with parents, platforms,
// same-named stops and comma-qualified names.
var fixtureStops = []storage.Stop{
	{ID: "Parent8503000", Name: "Zürich HB", LocationType: 1, City: "Zürich", Popularity: 100},
	{ID: "8503000:0:3", Name: "Zürich HB", ParentStation: "Parent8503000", PlatformCode: "3", City: "Zürich"},
	{ID: "Parent8503003", Name: "Zürich Stadelhofen", LocationType: 1, City: "Zürich", Popularity: 60},
	{ID: "8591299", Name: "Zürich, Paradeplatz", City: "Zürich", Popularity: 50},
	{ID: "Parent8503006", Name: "Zürich Oerlikon", LocationType: 1, City: "Zürich", Popularity: 70},

	{ID: "8587057", Name: "Genève, Bel-Air", City: "Genève", Popularity: 40},
	{ID: "8587020", Name: "Genève, gare Cornavin", City: "Genève", Popularity: 30},

	{ID: "Parent8501120", Name: "Lausanne", LocationType: 1, City: "Lausanne", Popularity: 90},
	{ID: "8501120:0:1", Name: "Lausanne", ParentStation: "Parent8501120", PlatformCode: "1", City: "Lausanne"},
	{ID: "Parent8592050", Name: "Lausanne, Bel-Air", LocationType: 1, City: "Lausanne", Popularity: 20},
	{ID: "8592050:0:A", Name: "Lausanne, Bel-Air", ParentStation: "Parent8592050", PlatformCode: "A", City: "Lausanne"},
	{ID: "8592082", Name: "Lausanne, Riponne-M. Béjart", City: "Lausanne", Popularity: 15},

	{ID: "Parent8507000", Name: "Bern", LocationType: 1, City: "Bern", Popularity: 90},
	{ID: "8507000:0:5", Name: "Bern", ParentStation: "Parent8507000", PlatformCode: "5", City: "Bern"},
	{ID: "8507999", Name: "Bern", City: "Bern", Popularity: 5},
	{ID: "8588780", Name: "Bern, Bahnhof", City: "Bern", Popularity: 25},
	{ID: "8576646", Name: "Bern, Bundesplatz", City: "Bern", Popularity: 20},

	{ID: "Parent8506302", Name: "St. Gallen", LocationType: 1, City: "St. Gallen", Popularity: 60},
}

var fixtureAliases = []storage.Alias{
	{StopID: "Parent8503000", Text: "Zurich Hauptbahnhof", Weight: 3},
	{StopID: "8587020", Text: "Cornavin", Weight: 2},
}

var fixtureAppAliases = []storage.Alias{
	{StopID: "Parent8501120", Text: "Gare de Lausanne", Weight: 1},
}

// fixtureRows returns the gazetteer as retriever rows, parent names filled.
func fixtureRows() []CandidateRow {
	names := make(map[string]string, len(fixtureStops))
	for _, s := range fixtureStops {
		names[s.ID] = s.Name
	}
	rows := make([]CandidateRow, 0, len(fixtureStops))
	for _, s := range fixtureStops {
		rows = append(rows, CandidateRow{
			ID:            s.ID,
			Name:          s.Name,
			ParentStation: s.ParentStation,
			ParentName:    names[s.ParentStation],
			LocationType:  s.LocationType,
			PlatformCode:  s.PlatformCode,
			City:          s.City,
			Popularity:    s.Popularity,
		})
	}
	return rows
}

// setupFixtureStore returns an in-memory SQLite gazetteer with every
// capability present.
func setupFixtureStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i := range fixtureStops {
		require.NoError(t, store.UpsertStop(ctx, &fixtureStops[i]))
	}
	for i := range fixtureAliases {
		require.NoError(t, store.UpsertAlias(ctx, &fixtureAliases[i]))
	}
	for i := range fixtureAppAliases {
		require.NoError(t, store.AddAppAlias(ctx, &fixtureAppAliases[i]))
	}
	_, err = store.RebuildSearchIndex(ctx)
	require.NoError(t, err)
	return store
}

// fakeStore serves queries from a handler and records them.
type fakeStore struct {
	mu      sync.Mutex
	queries []string
	handler func(query string, args []any) ([]storage.Row, error)
}

func (f *fakeStore) Query(_ context.Context, query string, args ...any) ([]storage.Row, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.handler == nil {
		return nil, nil
	}
	return f.handler(query, args)
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// wrapStore delegates to a real store unless intercept handles the query.
type wrapStore struct {
	inner     storage.Store
	intercept func(query string) ([]storage.Row, bool, error)
}

func (w *wrapStore) Query(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	if rows, handled, err := w.intercept(query); handled {
		return rows, err
	}
	return w.inner.Query(ctx, query, args...)
}

func isProbe(query string) bool {
	return strings.Contains(query, "has_search_index")
}

func isPrimary(query string) bool {
	return strings.Contains(query, "alias_hits")
}

func fullCapabilityRow() storage.Row {
	return storage.Row{
		"has_search_index": true,
		"has_stop_aliases": true,
		"has_app_aliases":  true,
		"has_norm_fn":      true,
		"has_strip_fn":     true,
		"has_similarity":   true,
		"has_unaccent":     true,
	}
}

func resultIDs(results []ScoredCandidate) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Row.ID
	}
	return ids
}
