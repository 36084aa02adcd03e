package stopsearch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stopsearch/internal/capability"
)

func capabilitySets() map[string]capability.Set {
	return map[string]capability.Set{
		"none":  {},
		"index": {SearchIndex: true},
		"index+similarity": {
			SearchIndex: true, Similarity: true,
		},
		"functions": {
			NormalizeFunc: true, StripFunc: true, Similarity: true, Unaccent: true,
		},
		"unaccent": {Unaccent: true},
		"all": {
			SearchIndex: true, StopAliases: true, AppAliases: true,
			NormalizeFunc: true, StripFunc: true, Similarity: true, Unaccent: true,
		},
	}
}

func TestQueries_PlaceholdersMatchArgs(t *testing.T) {
	queries := []string{"Zürich", "Lausanne, Bel-Air", "gare", "cornavain"}
	for name, caps := range capabilitySets() {
		for _, q := range queries {
			qc := NewQueryContext(q)
			builders := map[string]func() (string, []any){
				"fallback": func() (string, []any) { return fallbackQuery(&qc, caps, 60) },
				"alias":    func() (string, []any) { return aliasQuery(&qc, caps, 60) },
				"appAlias": func() (string, []any) { return appAliasQuery(&qc, caps, 60) },
				"primary":  func() (string, []any) { return primaryQuery(&qc, 60) },
			}
			for stage, build := range builders {
				sql, args := build()
				assert.Equal(t, strings.Count(sql, "?"), len(args), "%s/%s/%q", name, stage, q)
				assert.Equal(t, 60, args[len(args)-1], "limit binds last: %s/%s", name, stage)
			}
		}
	}
}

func TestFallbackQuery_Shapes(t *testing.T) {
	qc := NewQueryContext("Zürich Stadelhofen")

	sql, args := fallbackQuery(&qc, capability.Set{}, 60)
	assert.Contains(t, sql, "FROM stops s")
	assert.Contains(t, sql, "lower(s.stop_name)")
	assert.Contains(t, sql, "substr(")
	assert.NotContains(t, sql, "similarity(")
	assert.NotContains(t, sql, "stop_search_index")
	assert.Contains(t, args, "z")
	assert.Contains(t, args, "%zur%")
	assert.Contains(t, args, "%sta%")

	sql, _ = fallbackQuery(&qc, capability.Set{Unaccent: true}, 60)
	assert.Contains(t, sql, "lower(unaccent(s.stop_name))")

	sql, _ = fallbackQuery(&qc, capability.Set{NormalizeFunc: true, StripFunc: true}, 60)
	assert.Contains(t, sql, "stop_norm(s.stop_name)")
	assert.Contains(t, sql, "stop_strip(stop_norm(s.stop_name))")

	sql, args = fallbackQuery(&qc, capability.Set{SearchIndex: true, Similarity: true}, 60)
	assert.Contains(t, sql, "FROM stop_search_index i")
	assert.Contains(t, sql, "similarity(i.name_norm, ?)")
	assert.NotContains(t, sql, "substr(")
	assert.NotContains(t, sql, "stop_aliases")
	assert.Contains(t, args, "zurich stadelhofen%")
}

func TestPrimaryQuery_JoinsAliases(t *testing.T) {
	qc := NewQueryContext("Cornavin")
	sql, args := primaryQuery(&qc, 120)
	assert.Contains(t, sql, "FROM stop_aliases a")
	assert.Contains(t, sql, "FROM app_stop_aliases p")
	assert.Contains(t, sql, "LEFT JOIN alias_hits ah")
	assert.Contains(t, sql, "ORDER BY")
	assert.Equal(t, "cornavin", args[0])
	assert.Equal(t, 120, args[len(args)-1])
}

func TestFoldExpr_QuotesApostrophe(t *testing.T) {
	expr := foldExpr("s.stop_name", capability.Set{})
	assert.Contains(t, expr, "replace(")
	assert.Contains(t, expr, "''''")
	assert.Equal(t, strings.Count(expr, "("), strings.Count(expr, ")"))
}

func TestFoldExpr_TracksNormalizer(t *testing.T) {
	store := setupFixtureStore(t)
	caps := capability.Set{Unaccent: true}

	tests := map[string]string{
		"Genève/Cornavin": "geneve cornavin",
		"Saint’Imier":     "saint imier",
		"Bel-Air":         "bel air",
		"Chur_Post":       "chur post",
		"St. Gallen":      "st gallen",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			rows, err := store.Query(context.Background(), "SELECT "+foldExpr("?", caps)+" AS folded", name)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, want, rows[0].Text("folded"))
		})
	}
}
