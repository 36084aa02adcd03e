package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSearch(OutcomeResults, 20*time.Millisecond)
	m.ObserveSearch(OutcomeEmpty, 5*time.Millisecond)
	m.ObserveSearch(OutcomeResults, 10*time.Millisecond)
	m.ObserveStage("primary", 3*time.Millisecond, 12, nil)
	m.ObserveStage("fallback", 3*time.Millisecond, 0, errors.New("timeout"))
	m.StageSkipped("app_alias")
	m.Backoff()
	m.CapabilityProbe("cached")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.searches.WithLabelValues(OutcomeResults)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues(OutcomeEmpty)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.stageRows.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("fallback")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageSkipped.WithLabelValues("app_alias")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backoffs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capabilityProbes.WithLabelValues("cached")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "stopsearch_searches_total")
	assert.Contains(t, names, "stopsearch_stage_duration_seconds")
	assert.Contains(t, names, "stopsearch_backoff_total")
}

func TestMetrics_Unregistered(t *testing.T) {
	m := New(nil)
	m.Backoff()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backoffs))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSearch(OutcomeError, time.Second)
		m.ObserveStage("primary", time.Second, 1, nil)
		m.StageSkipped("primary")
		m.Backoff()
		m.CapabilityProbe("failed")
	})
}
