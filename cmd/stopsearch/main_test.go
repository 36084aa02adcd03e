package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stopsearch/internal/metrics"
	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/pkg/types"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"stopsearch"}, args...))
	return out.String(), err
}

func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gazetteer.db")
	store, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, stop := range []*storage.Stop{
		{ID: "Parent8507000", Name: "Bern", LocationType: 1, Popularity: 90},
		{ID: "Parent8503000", Name: "Zürich HB", LocationType: 1, Popularity: 100},
		{ID: "8503000:0:3", Name: "Zürich HB", ParentStation: "Parent8503000", PlatformCode: "3"},
	} {
		require.NoError(t, store.UpsertStop(ctx, stop))
	}
	_, err = store.RebuildSearchIndex(ctx)
	require.NoError(t, err)
	return path
}

func TestNormalizeCommand(t *testing.T) {
	out, err := runApp(t, "--db", filepath.Join(t.TempDir(), "x.db"), "normalize", "Lausanne,", "Gare")
	require.NoError(t, err)
	assert.Contains(t, out, "normalized: lausanne gare")
	assert.Contains(t, out, "core:       lausanne")
}

func TestSearchCommand(t *testing.T) {
	db := seededDB(t)

	t.Run("plain output", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "search", "zurich", "hb")
		require.NoError(t, err)
		assert.Contains(t, out, " 1. Zürich HB [Parent8503000]")
	})

	t.Run("json output", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "search", "--json", "--limit", "1", "bern")
		require.NoError(t, err)

		var stops []types.StopResult
		require.NoError(t, json.Unmarshal([]byte(out), &stops))
		require.Len(t, stops, 1)
		assert.Equal(t, "Parent8507000", stops[0].ID)
		assert.NoError(t, stops[0].Validate())
	})

	t.Run("debug output", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "search", "--debug", "bern")
		require.NoError(t, err)

		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Contains(t, resp, "stops")
		assert.Contains(t, resp, "debug")
	})

	t.Run("no match", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "search", "qqqqxxxx")
		require.NoError(t, err)
		assert.Contains(t, out, "no stops found")
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "search")
		assert.ErrorIs(t, err, types.ErrEmptyQuery)
	})
}

func TestImportCommand(t *testing.T) {
	db := seededDB(t)
	aliases := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(aliases, []byte(`aliases:
  - stop_id: Parent8507000
    text: Bärn
`), 0o600))

	t.Run("requires a source", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "import")
		assert.Error(t, err)
	})

	t.Run("aliases", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "import", "--aliases", aliases)
		require.NoError(t, err)
		assert.Contains(t, out, "aliases: 1 curated, 0 app")
	})

	t.Run("reindex", func(t *testing.T) {
		out, err := runApp(t, "--db", db, "import", "--reindex")
		require.NoError(t, err)
		assert.Contains(t, out, "search index: 3 rows")
	})
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "gazetteer.db")

	out, err := runApp(t, "--db", db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: "+storage.CurrentSchemaVersion)

	out, err = runApp(t, "--db", db, "migrate", "--rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: 1.0.0")
}

func TestSetup_InvalidLogLevel(t *testing.T) {
	_, err := runApp(t, "--log-level", "loud", "normalize", "bern")
	assert.Error(t, err)
}

func TestSetup_ConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("search:\n  default_limit: 500\n  max_limit: 100\n"), 0o600))

	_, err := runApp(t, "--config", cfgPath, "normalize", "bern")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "Build Mode: "+storage.BuildMode)
	assert.Contains(t, out, "SQLite Driver: "+storage.DriverName)
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Backoff()

	rec := httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopsearch_")
}

func TestPrintImportErrors(t *testing.T) {
	var buf bytes.Buffer
	printImportErrors(&buf, []string{"a", "b", "c", "d", "e", "f", "g"})
	assert.Contains(t, buf.String(), "error: e")
	assert.NotContains(t, buf.String(), "error: f")
	assert.Contains(t, buf.String(), "... and 2 more")
}
