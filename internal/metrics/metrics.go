// Package metrics exposes Prometheus collectors for the stop search engine.
//
// All methods are safe on a nil *Metrics, so callers that do not care about
// metrics can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stopsearch"

// Search outcomes.
const (
	OutcomeResults  = "results"
	OutcomeEmpty    = "empty"
	OutcomeTooShort = "too_short"
	OutcomeError    = "error"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	searches         *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	stageDuration    *prometheus.HistogramVec
	stageSkipped     *prometheus.CounterVec
	stageErrors      *prometheus.CounterVec
	stageRows        *prometheus.CounterVec
	backoffs         prometheus.Counter
	capabilityProbes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Stop searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end stop search latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Retrieval stage latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),
		stageSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_skipped_total",
			Help:      "Retrieval stages skipped for lack of budget.",
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Retrieval stages that failed or timed out.",
		}, []string{"stage"}),
		stageRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_rows_total",
			Help:      "Rows returned by retrieval stages.",
		}, []string{"stage"}),
		backoffs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_total",
			Help:      "Searches retried with a shortened query.",
		}),
		capabilityProbes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_probe_total",
			Help:      "Capability lookups by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// ObserveStage records one executed retrieval stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration, rows int, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageRows.WithLabelValues(stage).Add(float64(rows))
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// StageSkipped records a stage that had no budget left.
func (m *Metrics) StageSkipped(stage string) {
	if m == nil {
		return
	}
	m.stageSkipped.WithLabelValues(stage).Inc()
}

// Backoff records a shortened-query retry.
func (m *Metrics) Backoff() {
	if m == nil {
		return
	}
	m.backoffs.Inc()
}

// CapabilityProbe records a capability lookup outcome.
func (m *Metrics) CapabilityProbe(outcome string) {
	if m == nil {
		return
	}
	m.capabilityProbes.WithLabelValues(outcome).Inc()
}
