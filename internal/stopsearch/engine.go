package stopsearch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stopsearch/internal/budget"
	"github.com/dshills/stopsearch/internal/capability"
	"github.com/dshills/stopsearch/internal/logging"
	"github.com/dshills/stopsearch/internal/metrics"
	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/internal/textnorm"
	"github.com/dshills/stopsearch/pkg/types"
)

const (
	// DefaultLimit is used when a search asks for limit 0.
	DefaultLimit = 20
	// MaxLimit caps the result limit.
	MaxLimit = 100
	// MinTotalBudget is the least total budget a Config may carry.
	MinTotalBudget = 300 * time.Millisecond
	// debugTopN is how many scored candidates Debug keeps.
	debugTopN = 10
)

// Retrieval strategies reported in Debug.
const (
	StrategyPrimary  = "primary"
	StrategyFallback = "fallback"
	StrategyNone     = "none"
)

// Config holds the engine's time budget and limits.
type Config struct {
	TotalBudget     time.Duration `json:"totalBudget"`
	ProbeTimeout    time.Duration `json:"probeTimeout"`
	PrimaryTimeout  time.Duration `json:"primaryTimeout"`
	FallbackTimeout time.Duration `json:"fallbackTimeout"`
	AliasTimeout    time.Duration `json:"aliasTimeout"`
	StageMinTimeout time.Duration `json:"stageMinTimeout"`
	CapabilityTTL   time.Duration `json:"capabilityTtl"`
	DefaultLimit    int           `json:"defaultLimit"`
	MaxLimit        int           `json:"maxLimit"`
}

// DefaultConfig returns the default budget and limits.
func DefaultConfig() Config {
	return Config{
		TotalBudget:     1800 * time.Millisecond,
		ProbeTimeout:    capability.DefaultProbeTimeout,
		PrimaryTimeout:  900 * time.Millisecond,
		FallbackTimeout: 700 * time.Millisecond,
		AliasTimeout:    250 * time.Millisecond,
		StageMinTimeout: 40 * time.Millisecond,
		CapabilityTTL:   capability.DefaultTTL,
		DefaultLimit:    DefaultLimit,
		MaxLimit:        MaxLimit,
	}
}

// withDefaults fills zero fields from DefaultConfig and applies floors.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TotalBudget <= 0 {
		c.TotalBudget = d.TotalBudget
	}
	c.TotalBudget = max(c.TotalBudget, MinTotalBudget)
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = d.PrimaryTimeout
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = d.FallbackTimeout
	}
	if c.AliasTimeout <= 0 {
		c.AliasTimeout = d.AliasTimeout
	}
	if c.StageMinTimeout <= 0 {
		c.StageMinTimeout = d.StageMinTimeout
	}
	if c.CapabilityTTL <= 0 {
		c.CapabilityTTL = d.CapabilityTTL
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	c.DefaultLimit = min(c.DefaultLimit, c.MaxLimit)
	return c
}

// Engine searches one gazetteer store. It is safe for concurrent use; the
// only state shared between calls is the capability cache.
type Engine struct {
	store     storage.Store
	cfg       Config
	detector  *capability.Detector
	warnings  *logging.WarnOnce
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	retriever *retriever
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the budget and limits.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now for budgets and traces.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDetector shares a capability detector between engines.
func WithDetector(d *capability.Detector) Option {
	return func(e *Engine) {
		e.detector = d
	}
}

// New creates an Engine over store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.Default().With("component", "stopsearch"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()

	if e.detector == nil {
		e.warnings = logging.NewWarnOnce(e.logger)
		e.detector = capability.NewDetector(
			capability.WithTTL(e.cfg.CapabilityTTL),
			capability.WithProbeTimeout(e.cfg.ProbeTimeout),
			capability.WithClock(e.now),
			capability.WithWarnings(e.warnings),
			capability.WithLogger(e.logger),
			capability.WithObserver(e.metrics.CapabilityProbe),
		)
	} else {
		e.warnings = e.detector.Warnings()
	}

	e.retriever = &retriever{
		store: store,
		timeouts: Timeouts{
			Primary:  e.cfg.PrimaryTimeout,
			Fallback: e.cfg.FallbackTimeout,
			Alias:    e.cfg.AliasTimeout,
			StageMin: e.cfg.StageMinTimeout,
		},
		warnings: e.warnings,
		logger:   e.logger,
		metrics:  e.metrics,
		now:      e.now,
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Capabilities returns the store's capability set, probing when the cache
// is stale or force is set.
func (e *Engine) Capabilities(ctx context.Context, force bool) capability.Set {
	b := budget.NewWithClock(e.cfg.TotalBudget, e.now)
	return e.detector.Detect(ctx, e.store, b, force)
}

// Reset drops the capability cache and the seen-warning set.
func (e *Engine) Reset() {
	e.detector.Invalidate()
	e.warnings.Reset()
}

// Request is one search call.
type Request struct {
	Query string
	Limit int
	// NoBackoff disables the shortened-query retry.
	NoBackoff bool
}

// Debug describes how a search was answered.
type Debug struct {
	RequestID      string            `json:"requestId"`
	Query          QueryContext      `json:"query"`
	EffectiveQuery string            `json:"effectiveQuery"`
	BackoffUsed    bool              `json:"backoffUsed"`
	Capabilities   capability.Set    `json:"capabilities"`
	Strategy       string            `json:"strategy"`
	CandidateLimit int               `json:"candidateLimit"`
	Stages         []StageTrace      `json:"stages"`
	RawRows        int               `json:"rawRows"`
	Candidates     int               `json:"candidates"`
	Top            []ScoredCandidate `json:"top"`
	Duration       time.Duration     `json:"duration"`
}

// Response is the result of Search.
type Response struct {
	Stops []types.StopResult `json:"stops"`
	Debug *Debug             `json:"debug,omitempty"`
}

// SearchStops returns up to limit ranked stops for query. Limit 0 means
// the configured default.
func (e *Engine) SearchStops(ctx context.Context, query string, limit int) ([]types.StopResult, error) {
	resp, err := e.Search(ctx, Request{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Stops, nil
}

// SearchStopsWithDebug is SearchStops plus the Debug record.
func (e *Engine) SearchStopsWithDebug(ctx context.Context, query string, limit int) (*Response, error) {
	return e.Search(ctx, Request{Query: query, Limit: limit})
}

// Search runs capability detection, retrieval, ranking and at most one
// backoff retry. It fails only when the fallback cascade failed and no
// stage produced rows.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := e.now()
	dbg := &Debug{RequestID: uuid.NewString(), Strategy: StrategyNone}
	logger := e.logger.With("request_id", dbg.RequestID)

	limit, err := e.resolveLimit(req.Limit)
	if err != nil {
		return nil, err
	}
	qc := NewQueryContext(req.Query)
	dbg.Query = qc
	dbg.EffectiveQuery = qc.Raw
	dbg.CandidateLimit = CandidateLimit(limit)

	if qc.Length() < MinQueryLen {
		return e.finish(dbg, nil, start, metrics.OutcomeTooShort), nil
	}
	if e.store == nil {
		return nil, ErrNoStore
	}

	b := budget.NewWithClock(e.cfg.TotalBudget, e.now)
	caps := e.detector.Detect(ctx, e.store, b, false)
	dbg.Capabilities = caps

	scored, err := e.attempt(ctx, &qc, limit, caps, b, true, dbg)
	if err != nil {
		e.metrics.ObserveSearch(metrics.OutcomeError, e.now().Sub(start))
		logger.Warn("stop search failed", "query", qc.Raw, "error", err)
		return nil, err
	}

	if len(scored) == 0 && !req.NoBackoff && qc.Length() >= MinQueryLen+1 {
		short := NewQueryContext(shortenQuery(qc.Raw))
		if short.Length() >= MinQueryLen && short.Norm != qc.Norm {
			e.metrics.Backoff()
			dbg.BackoffUsed = true
			dbg.EffectiveQuery = short.Raw
			logger.Debug("retrying with shortened query", "query", qc.Raw, "shortened", short.Raw)

			scored, err = e.attempt(ctx, &short, limit, caps, b, false, dbg)
			if err != nil {
				logger.Debug("backoff retrieval failed", "error", err)
				scored = nil
			}
		}
	}

	outcome := metrics.OutcomeResults
	if len(scored) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	resp := e.finish(dbg, scored, start, outcome)
	logger.Debug("stop search finished",
		"query", qc.Raw,
		"strategy", dbg.Strategy,
		"results", len(resp.Stops),
		"backoff", dbg.BackoffUsed,
		"duration", dbg.Duration)
	return resp, nil
}

// attempt runs one retrieval and ranks its rows.
func (e *Engine) attempt(ctx context.Context, qc *QueryContext, limit int, caps capability.Set, b *budget.Budget, allowPrimary bool, dbg *Debug) ([]ScoredCandidate, error) {
	res, err := e.retriever.retrieve(ctx, qc, limit, caps, b, allowPrimary)
	dbg.Stages = append(dbg.Stages, res.stages...)
	dbg.RawRows += res.rawRows
	dbg.Candidates += len(res.rows)
	if res.usedPrimary {
		dbg.Strategy = StrategyPrimary
	} else if dbg.Strategy == StrategyNone {
		dbg.Strategy = StrategyFallback
	}
	if err != nil {
		return nil, err
	}
	return Rank(res.rows, qc, limit), nil
}

func (e *Engine) finish(dbg *Debug, scored []ScoredCandidate, start time.Time, outcome string) *Response {
	dbg.Top = scored[:min(len(scored), debugTopN)]
	dbg.Duration = e.now().Sub(start)
	e.metrics.ObserveSearch(outcome, dbg.Duration)
	return &Response{Stops: Results(scored), Debug: dbg}
}

func (e *Engine) resolveLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, ErrInvalidLimit
	case limit == 0:
		return e.cfg.DefaultLimit, nil
	default:
		return min(limit, e.cfg.MaxLimit), nil
	}
}

// RankStopCandidates ranks fixture or pre-fetched rows without a store.
func RankStopCandidates(rows []CandidateRow, query string, limit int) []types.StopResult {
	return Results(RankStopCandidatesDetailed(rows, query, limit))
}

// RankStopCandidatesDetailed is RankStopCandidates with scores, tiers and
// score breakdowns.
func RankStopCandidatesDetailed(rows []CandidateRow, query string, limit int) []ScoredCandidate {
	qc := NewQueryContext(query)
	if qc.Length() < MinQueryLen {
		return []ScoredCandidate{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Rank(rows, &qc, min(limit, MaxLimit))
}

// NormalizeSearchText is the normalizer used on both the search path and
// the index build.
func NormalizeSearchText(text string) string {
	return textnorm.Normalize(text)
}

// StripStopWords removes generic station words from normalized text.
func StripStopWords(text string) string {
	return textnorm.StripStopWords(text)
}
