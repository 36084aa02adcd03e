package stopsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func stopIDs(stops []types.StopResult) []string {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.ID
	}
	return ids
}

func stopIndex(stops []types.StopResult, name string) int {
	for i, s := range stops {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func TestEngine_FixtureStore(t *testing.T) {
	engine := New(setupFixtureStore(t))
	ctx := context.Background()

	t.Run("BareCity", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "Zürich", 7)
		require.NoError(t, err)
		require.NotEmpty(t, stops)
		assert.LessOrEqual(t, len(stops), 7)
		assert.Equal(t, "Parent8503000", stops[0].ID)
		assert.True(t, stops[0].IsParent)
		assert.Contains(t, stops[0].AliasesMatched, "Zurich Hauptbahnhof")
	})

	t.Run("BelAir", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "bel air", 10)
		require.NoError(t, err)
		assert.NotEqual(t, -1, stopIndex(stops, "Genève, Bel-Air"))
		assert.NotEqual(t, -1, stopIndex(stops, "Lausanne, Bel-Air"))
	})

	t.Run("CommaQualified", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "Lausanne, Bel-Air", 10)
		require.NoError(t, err)
		child := stopIndex(stops, "Lausanne, Bel-Air")
		parent := stopIndex(stops, "Lausanne")
		require.NotEqual(t, -1, child)
		require.NotEqual(t, -1, parent)
		assert.Less(t, child, parent)
		assert.False(t, stops[child].IsParent)
	})

	t.Run("Typo", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "cornavain", 5)
		require.NoError(t, err)
		require.NotEmpty(t, stops)
		assert.Contains(t, stopIDs(stops)[:min(3, len(stops))], "8587020")
	})

	t.Run("AppAlias", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "Gare de Lausanne", 5)
		require.NoError(t, err)
		require.NotEmpty(t, stops)
		assert.Equal(t, "Parent8501120", stops[0].ID)
		assert.Equal(t, []string{"Gare de Lausanne"}, stops[0].AliasesMatched)
	})

	t.Run("Dedup", func(t *testing.T) {
		stops, err := engine.SearchStops(ctx, "Bern", 10)
		require.NoError(t, err)
		count := 0
		for _, s := range stops {
			if s.Name == "Bern" {
				count++
			}
		}
		assert.Equal(t, 1, count)
		assert.NotEqual(t, -1, stopIndex(stops, "Bern, Bahnhof"))
		assert.NotEqual(t, -1, stopIndex(stops, "Bern, Bundesplatz"))
	})

	t.Run("Debug", func(t *testing.T) {
		resp, err := engine.SearchStopsWithDebug(ctx, "Zürich", 7)
		require.NoError(t, err)
		require.NotNil(t, resp.Debug)
		d := resp.Debug
		assert.NotEmpty(t, d.RequestID)
		assert.True(t, d.Capabilities.SupportsPrimary())
		assert.Equal(t, StrategyPrimary, d.Strategy)
		assert.Equal(t, "zurich", d.Query.Norm)
		assert.Equal(t, CandidateLimit(7), d.CandidateLimit)
		assert.Equal(t, StagePrimary, d.Stages[0].Stage)
		assert.Positive(t, d.RawRows)
		assert.LessOrEqual(t, len(d.Top), debugTopN)
		assert.Equal(t, resp.Stops[0].ID, d.Top[0].Row.ID)
		assert.False(t, d.BackoffUsed)

		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"requestId"`)
		assert.Contains(t, string(data), `"stationId"`)
	})
}

func TestEngine_DegradedFallback(t *testing.T) {
	store := &wrapStore{
		inner: setupFixtureStore(t),
		intercept: func(query string) ([]storage.Row, bool, error) {
			if isProbe(query) {
				return nil, true, errors.New("permission denied for pg_proc")
			}
			return nil, false, nil
		},
	}
	engine := New(store)
	ctx := context.Background()

	resp, err := engine.SearchStopsWithDebug(ctx, "Zürich HB", 5)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Stops)
	assert.Equal(t, "Parent8503000", resp.Stops[0].ID)
	assert.True(t, resp.Debug.Capabilities.Degraded())
	assert.Equal(t, StrategyFallback, resp.Debug.Strategy)
	for _, s := range resp.Debug.Stages {
		assert.NotEqual(t, StagePrimary, s.Stage)
		assert.NotEqual(t, StageAlias, s.Stage)
	}

	stops, err := engine.SearchStops(ctx, "Bern", 5)
	require.NoError(t, err)
	require.NotEmpty(t, stops)
	assert.Equal(t, "Parent8507000", stops[0].ID)

	stops, err = engine.SearchStops(ctx, "Cornavin", 5)
	require.NoError(t, err)
	require.NotEmpty(t, stops)
	assert.Equal(t, "8587020", stops[0].ID)
}

func TestEngine_PrimaryFailureFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store := &wrapStore{
		inner: setupFixtureStore(t),
		intercept: func(query string) ([]storage.Row, bool, error) {
			if isPrimary(query) {
				return nil, true, errors.New("canceling statement due to statement timeout")
			}
			return nil, false, nil
		},
	}
	engine := New(store, WithLogger(logger))
	ctx := context.Background()

	for range 2 {
		resp, err := engine.SearchStopsWithDebug(ctx, "Zürich", 5)
		require.NoError(t, err)
		require.NotEmpty(t, resp.Stops)
		assert.Equal(t, "Parent8503000", resp.Stops[0].ID)
		assert.Equal(t, StagePrimary, resp.Debug.Stages[0].Stage)
		assert.NotEmpty(t, resp.Debug.Stages[0].Error)
		assert.Equal(t, StrategyFallback, resp.Debug.Strategy)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "primary stop search failed"))

	engine.Reset()
	_, err := engine.SearchStops(ctx, "Zürich", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "primary stop search failed"))
}

func TestEngine_FallbackFailure(t *testing.T) {
	errDown := errors.New("connection refused")
	store := &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		if isProbe(query) {
			return nil, errors.New("connection refused")
		}
		return nil, errDown
	}}

	_, err := New(store).SearchStops(context.Background(), "Zürich", 5)
	require.Error(t, err)
	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Nil(t, rerr.Primary)
	assert.ErrorIs(t, err, errDown)
}

func TestEngine_FallbackFailureWrapsPrimary(t *testing.T) {
	errPrimary := errors.New("primary timed out")
	errFallback := errors.New("fallback failed")
	store := &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		switch {
		case isProbe(query):
			return []storage.Row{fullCapabilityRow()}, nil
		case isPrimary(query):
			return nil, errPrimary
		default:
			return nil, errFallback
		}
	}}

	_, err := New(store).SearchStops(context.Background(), "Zürich", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, errPrimary)
	assert.ErrorIs(t, err, errFallback)
	assert.Contains(t, err.Error(), "primary timed out")
}

func TestEngine_PrimaryRowCountDecidesFallback(t *testing.T) {
	bernRow := func(alias string) storage.Row {
		return storage.Row{
			"stop_id":       "Parent8507000",
			"stop_name":     "Bern",
			"group_id":      "Parent8507000",
			"location_type": int64(1),
			"is_parent":     int64(1),
			"name_sim":      1.0,
			"alias_text":    alias,
			"alias_norm":    NormalizeSearchText(alias),
			"alias_weight":  1.0,
			"alias_source":  SourceAlias,
		}
	}
	storeWith := func(primary []storage.Row) *fakeStore {
		return &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
			switch {
			case isProbe(query):
				return []storage.Row{fullCapabilityRow()}, nil
			case isPrimary(query):
				return primary, nil
			default:
				return nil, nil
			}
		}}
	}
	stages := func(resp *Response) []string {
		var out []string
		for _, st := range resp.Debug.Stages {
			out = append(out, st.Stage)
		}
		return out
	}

	t.Run("fanned out rows are enough", func(t *testing.T) {
		store := storeWith([]storage.Row{bernRow("Bern"), bernRow("Bärn"), bernRow("Berne")})
		resp, err := New(store).SearchStopsWithDebug(context.Background(), "Bern", 1)
		require.NoError(t, err)
		require.Len(t, resp.Stops, 1)
		assert.Equal(t, "Parent8507000", resp.Stops[0].ID)
		assert.Equal(t, 3, resp.Debug.RawRows)
		assert.Equal(t, []string{StagePrimary}, stages(resp))
	})

	t.Run("too few rows run the fallback", func(t *testing.T) {
		store := storeWith([]storage.Row{bernRow("Bern"), bernRow("Bärn")})
		resp, err := New(store).SearchStopsWithDebug(context.Background(), "Bern", 1)
		require.NoError(t, err)
		assert.Contains(t, stages(resp), StageFallback)
	})
}

func TestEngine_AliasFailureIgnored(t *testing.T) {
	store := &wrapStore{
		inner: setupFixtureStore(t),
		intercept: func(query string) ([]storage.Row, bool, error) {
			switch {
			case isPrimary(query):
				return nil, true, errors.New("primary down")
			case strings.Contains(query, "FROM stop_aliases al"), strings.Contains(query, "FROM app_stop_aliases ap"):
				return nil, true, errors.New("alias table locked")
			}
			return nil, false, nil
		},
	}
	stops, err := New(store).SearchStops(context.Background(), "Bern", 5)
	require.NoError(t, err)
	require.NotEmpty(t, stops)
	assert.Equal(t, "Parent8507000", stops[0].ID)
}

func TestEngine_ShortQueryNeverTouchesStore(t *testing.T) {
	store := &fakeStore{}
	engine := New(store)

	for _, q := range []string{"", "Z", "  ", "-.", "é"} {
		resp, err := engine.SearchStopsWithDebug(context.Background(), q, 10)
		require.NoError(t, err, q)
		assert.Empty(t, resp.Stops, q)
		assert.NotNil(t, resp.Stops, q)
		assert.Equal(t, StrategyNone, resp.Debug.Strategy)
	}
	assert.Equal(t, 0, store.calls())
}

func riponneStore(fullCaps bool) *fakeStore {
	return &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		if isProbe(query) {
			if fullCaps {
				return []storage.Row{fullCapabilityRow()}, nil
			}
			return nil, errors.New("probe failed")
		}
		if slices.Contains(args, any("%riponne%")) && !isPrimary(query) && !strings.Contains(query, "alias") {
			return []storage.Row{{
				"stop_id":       "8592082",
				"stop_name":     "Lausanne, Riponne-M. Béjart",
				"location_type": int64(0),
				"city":          "Lausanne",
			}}, nil
		}
		return nil, nil
	}}
}

func TestEngine_Backoff(t *testing.T) {
	ctx := context.Background()

	resp, err := New(riponneStore(false)).SearchStopsWithDebug(ctx, "Riponnes", 10)
	require.NoError(t, err)
	require.Len(t, resp.Stops, 1)
	assert.Equal(t, "8592082", resp.Stops[0].ID)
	assert.True(t, resp.Debug.BackoffUsed)
	assert.Equal(t, "Riponne", resp.Debug.EffectiveQuery)

	noBackoff, err := New(riponneStore(false)).Search(ctx, Request{Query: "Riponnes", Limit: 10, NoBackoff: true})
	require.NoError(t, err)
	assert.Empty(t, noBackoff.Stops)
	assert.False(t, noBackoff.Debug.BackoffUsed)

	// One level only: nothing matches "Riponn" or "Ripon" here.
	store := riponneStore(false)
	resp, err = New(store).SearchStopsWithDebug(ctx, "Riponnxy", 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Stops)
	assert.True(t, resp.Debug.BackoffUsed)
	assert.Equal(t, "Riponnx", resp.Debug.EffectiveQuery)
}

func TestEngine_BackoffUsesFallbackOnly(t *testing.T) {
	store := riponneStore(true)
	resp, err := New(store).SearchStopsWithDebug(context.Background(), "Riponnes", 10)
	require.NoError(t, err)
	require.Len(t, resp.Stops, 1)
	assert.True(t, resp.Debug.BackoffUsed)

	primaries := 0
	for _, q := range store.queries {
		if isPrimary(q) {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestEngine_BudgetExhaustedSkipsStages(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		if isProbe(query) {
			clock.Advance(5 * time.Second)
			return []storage.Row{fullCapabilityRow()}, nil
		}
		return []storage.Row{{"stop_id": "8507000", "stop_name": "Bern"}}, nil
	}}
	engine := New(store, WithClock(clock.Now))

	resp, err := engine.SearchStopsWithDebug(context.Background(), "Bern", 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Stops)
	require.NotEmpty(t, resp.Debug.Stages)
	for _, s := range resp.Debug.Stages {
		assert.True(t, s.Skipped, s.Stage)
	}
	assert.Equal(t, 1, store.calls(), "only the probe reached the store")
}

func TestEngine_CancelledContextSkipsStages(t *testing.T) {
	store := &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		if isProbe(query) {
			return []storage.Row{fullCapabilityRow()}, nil
		}
		return []storage.Row{{"stop_id": "8507000", "stop_name": "Bern"}}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stops, err := New(store).SearchStops(ctx, "Bern", 5)
	require.NoError(t, err)
	assert.Empty(t, stops)
	assert.Equal(t, 1, store.calls())
}

func TestEngine_CapabilityCacheShared(t *testing.T) {
	store := &fakeStore{handler: func(query string, args []any) ([]storage.Row, error) {
		if isProbe(query) {
			return []storage.Row{fullCapabilityRow()}, nil
		}
		return nil, nil
	}}
	probes := func() int {
		n := 0
		for _, q := range store.queries {
			if isProbe(q) {
				n++
			}
		}
		return n
	}
	engine := New(store)
	ctx := context.Background()

	_, err := engine.SearchStops(ctx, "Bern", 5)
	require.NoError(t, err)
	_, err = engine.SearchStops(ctx, "Basel", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, probes())

	engine.Reset()
	_, err = engine.SearchStops(ctx, "Bern", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, probes())

	other := New(store)
	_, err = other.SearchStops(ctx, "Bern", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, probes(), "engines do not share a cache by default")
}

func TestEngine_Limits(t *testing.T) {
	engine := New(&fakeStore{})
	ctx := context.Background()

	_, err := engine.SearchStops(ctx, "Bern", -1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	resp, err := engine.SearchStopsWithDebug(ctx, "Bern", 0)
	require.NoError(t, err)
	assert.Equal(t, CandidateLimit(DefaultLimit), resp.Debug.CandidateLimit)

	resp, err = engine.SearchStopsWithDebug(ctx, "Bern", 1000)
	require.NoError(t, err)
	assert.Equal(t, CandidateLimit(MaxLimit), resp.Debug.CandidateLimit)
}

func TestEngine_NoStore(t *testing.T) {
	_, err := New(nil).SearchStops(context.Background(), "Bern", 5)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{TotalBudget: 100 * time.Millisecond, DefaultLimit: 500, MaxLimit: 50}.withDefaults()
	assert.Equal(t, MinTotalBudget, cfg.TotalBudget)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 900*time.Millisecond, cfg.PrimaryTimeout)
	assert.Equal(t, 40*time.Millisecond, cfg.StageMinTimeout)

	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
}

func TestNormalizeHelpers(t *testing.T) {
	assert.Equal(t, "geneve bel air", NormalizeSearchText("Genève-Bel_Air."))
	assert.Equal(t, "bern", StripStopWords("bern bahnhof"))
}
