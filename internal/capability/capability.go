// Package capability probes a gazetteer store for the indexes, alias tables
// and SQL functions the search strategies depend on, and caches the answer.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dshills/stopsearch/internal/budget"
	"github.com/dshills/stopsearch/internal/logging"
	"github.com/dshills/stopsearch/internal/storage"
)

const (
	// DefaultTTL is how long a probe result is reused.
	DefaultTTL = 60 * time.Second
	// DefaultProbeTimeout bounds the probe query.
	DefaultProbeTimeout = 250 * time.Millisecond
	// DefaultProbeMinTimeout is the least budget worth spending on a probe.
	DefaultProbeMinTimeout = 20 * time.Millisecond
)

// Probe outcomes reported to the observer.
const (
	OutcomeCached  = "cached"
	OutcomeProbed  = "probed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Set describes which backing-store features are available.
// A Set is never mutated after it is published; refreshes replace it.
type Set struct {
	SearchIndex   bool `json:"search_index"`
	StopAliases   bool `json:"stop_aliases"`
	AppAliases    bool `json:"app_aliases"`
	NormalizeFunc bool `json:"normalize_func"`
	StripFunc     bool `json:"strip_func"`
	Similarity    bool `json:"similarity"`
	Unaccent      bool `json:"unaccent"`
}

// SupportsPrimary reports whether every feature of the primary indexed
// strategy is present.
func (s Set) SupportsPrimary() bool {
	return s.SearchIndex && s.StopAliases && s.AppAliases &&
		s.NormalizeFunc && s.StripFunc && s.Similarity && s.Unaccent
}

// Degraded reports whether no feature at all is available.
func (s Set) Degraded() bool {
	return s == Set{}
}

type entry struct {
	set        Set
	computedAt time.Time
}

// Detector probes stores and caches the resulting Set for a fixed TTL.
//
// The cache is a single atomically swapped cell. Concurrent refreshes may
// both probe; they converge on the same value, so no lock is held.
type Detector struct {
	ttl          time.Duration
	probeTimeout time.Duration
	probeMin     time.Duration
	now          func() time.Time
	warnings     *logging.WarnOnce
	logger       *slog.Logger
	observe      func(outcome string)

	cell atomic.Pointer[entry]
}

// Option configures a Detector.
type Option func(*Detector)

// WithTTL sets the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithProbeTimeout sets the upper bound of the probe query.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.probeTimeout = timeout
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithWarnings shares a WarnOnce set with the detector.
func WithWarnings(w *logging.WarnOnce) Option {
	return func(d *Detector) {
		if w != nil {
			d.warnings = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver receives one outcome per Detect call.
func WithObserver(fn func(outcome string)) Option {
	return func(d *Detector) {
		d.observe = fn
	}
}

// NewDetector creates a Detector with an empty cache.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		ttl:          DefaultTTL,
		probeTimeout: DefaultProbeTimeout,
		probeMin:     DefaultProbeMinTimeout,
		now:          time.Now,
		logger:       slog.Default().With("component", "capability"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.warnings == nil {
		d.warnings = logging.NewWarnOnce(d.logger)
	}
	return d
}

// Detect returns the capability set of store.
//
// A cached value younger than the TTL is returned unless force is set. On a
// miss one probe query runs with a timeout taken from b. A failed probe
// yields the all-false Set, which is cached like any other result; a probe
// skipped for lack of budget is not cached. Detect never fails.
func (d *Detector) Detect(ctx context.Context, store storage.Store, b *budget.Budget, force bool) Set {
	if !force {
		if e := d.cell.Load(); e != nil && d.now().Sub(e.computedAt) < d.ttl {
			d.report(OutcomeCached)
			return e.set
		}
	}

	timeout := d.probeTimeout
	if b != nil {
		timeout = b.TimeoutFor(d.probeTimeout, d.probeMin)
	}
	if timeout == 0 {
		d.warnings.Warn("capability_probe:budget", "capability probe skipped: search budget exhausted")
		d.report(OutcomeSkipped)
		return Set{}
	}

	set, err := d.probe(ctx, store, timeout)
	if err != nil {
		d.warnings.Warn("capability_probe:"+err.Error(), "capability probe failed, using degraded search", "error", err)
		d.report(OutcomeFailed)
		set = Set{}
	} else {
		d.report(OutcomeProbed)
		d.logger.Debug("capabilities detected", "capabilities", set)
	}

	d.cell.Store(&entry{set: set, computedAt: d.now()})
	return set
}

// Cached returns the cached set and when it was computed.
func (d *Detector) Cached() (Set, time.Time, bool) {
	e := d.cell.Load()
	if e == nil {
		return Set{}, time.Time{}, false
	}
	return e.set, e.computedAt, true
}

// Invalidate drops the cached set.
func (d *Detector) Invalidate() {
	d.cell.Store(nil)
}

// Warnings returns the detector's warning set.
func (d *Detector) Warnings() *logging.WarnOnce {
	return d.warnings
}

func (d *Detector) report(outcome string) {
	if d.observe != nil {
		d.observe(outcome)
	}
}

func (d *Detector) probe(ctx context.Context, store storage.Store, timeout time.Duration) (Set, error) {
	if store == nil {
		return Set{}, fmt.Errorf("no store configured")
	}
	rows, err := storage.QueryBounded(ctx, store, timeout, ProbeQuery(storage.DialectOf(store)))
	if err != nil {
		return Set{}, err
	}
	if len(rows) == 0 {
		return Set{}, fmt.Errorf("capability probe returned no rows")
	}
	r := rows[0]
	return Set{
		SearchIndex:   r.Bool("has_search_index"),
		StopAliases:   r.Bool("has_stop_aliases"),
		AppAliases:    r.Bool("has_app_aliases"),
		NormalizeFunc: r.Bool("has_norm_fn"),
		StripFunc:     r.Bool("has_strip_fn"),
		Similarity:    r.Bool("has_similarity"),
		Unaccent:      r.Bool("has_unaccent"),
	}, nil
}

// ProbeQuery returns the single-row probe for a dialect.
func ProbeQuery(dialect storage.Dialect) string {
	if dialect == storage.DialectPostgres {
		return postgresProbe
	}
	return sqliteProbe
}

const sqliteProbe = `
	SELECT
		EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'stop_search_index') AS has_search_index,
		EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'stop_aliases') AS has_stop_aliases,
		EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'app_stop_aliases') AS has_app_aliases,
		EXISTS(SELECT 1 FROM pragma_function_list WHERE name = 'stop_norm') AS has_norm_fn,
		EXISTS(SELECT 1 FROM pragma_function_list WHERE name = 'stop_strip') AS has_strip_fn,
		EXISTS(SELECT 1 FROM pragma_function_list WHERE name = 'similarity') AS has_similarity,
		EXISTS(SELECT 1 FROM pragma_function_list WHERE name = 'unaccent') AS has_unaccent
`

const postgresProbe = `
	SELECT
		to_regclass('stop_search_index') IS NOT NULL AS has_search_index,
		to_regclass('stop_aliases') IS NOT NULL AS has_stop_aliases,
		to_regclass('app_stop_aliases') IS NOT NULL AS has_app_aliases,
		EXISTS(SELECT 1 FROM pg_proc WHERE proname = 'stop_norm') AS has_norm_fn,
		EXISTS(SELECT 1 FROM pg_proc WHERE proname = 'stop_strip') AS has_strip_fn,
		EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm') AS has_similarity,
		EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'unaccent') AS has_unaccent
`
