package stopsearch

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/stopsearch/internal/budget"
	"github.com/dshills/stopsearch/internal/capability"
	"github.com/dshills/stopsearch/internal/logging"
	"github.com/dshills/stopsearch/internal/metrics"
	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/internal/textnorm"
)

// Retrieval stages.
const (
	StagePrimary  = "primary"
	StageFallback = "fallback"
	StageAlias    = "alias"
	StageAppAlias = "app_alias"
)

// Candidate limit bounds.
const (
	candidatesPerResult = 20
	minCandidates       = 60
	maxCandidates       = 320
	primaryRowsPerLimit = 3
)

// CandidateLimit is the number of rows fetched for a result limit.
func CandidateLimit(limit int) int {
	return min(max(limit*candidatesPerResult, minCandidates), maxCandidates)
}

// StageTrace records what one retrieval stage did.
type StageTrace struct {
	Stage    string        `json:"stage"`
	Timeout  time.Duration `json:"timeout"`
	Duration time.Duration `json:"duration"`
	Rows     int           `json:"rows"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Timeouts are the per-stage ceilings taken from the budget.
type Timeouts struct {
	Primary  time.Duration
	Fallback time.Duration
	Alias    time.Duration
	StageMin time.Duration
}

// retriever runs the primary strategy and the fallback cascade against a
// store, stages strictly in sequence.
type retriever struct {
	store    storage.Store
	timeouts Timeouts
	warnings *logging.WarnOnce
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// retrieval is the merged outcome of one cascade.
type retrieval struct {
	rows        []CandidateRow
	rawRows     int
	usedPrimary bool
	stages      []StageTrace
}

// retrieve gathers candidates for qc. Primary runs only when allowed and
// supported; the fallback cascade runs when primary is unavailable, fails
// or returns too few rows. An error is returned only when the fallback base
// stage failed and no stage produced rows.
func (r *retriever) retrieve(ctx context.Context, qc *QueryContext, limit int, caps capability.Set, b *budget.Budget, allowPrimary bool) (*retrieval, error) {
	candLimit := CandidateLimit(limit)
	merged := newCandidateSet()
	res := &retrieval{}

	var primaryErr error
	if allowPrimary && caps.SupportsPrimary() {
		query, args := primaryQuery(qc, candLimit)
		rows, trace, err := r.runStage(ctx, b, StagePrimary, r.timeouts.Primary, query, args)
		primaryRows := 0
		res.stages = append(res.stages, trace)
		switch {
		case err != nil:
			primaryErr = err
			r.warnings.Warn("primary:"+err.Error(), "primary stop search failed, using fallback", "error", err)
		case !trace.Skipped:
			res.usedPrimary = true
			primaryRows = len(rows)
			res.rawRows += primaryRows
			merged.addRows(rows)
		}
		// Rows fanned out by the alias join count individually.
		if primaryRows >= min(candLimit, limit*primaryRowsPerLimit) {
			res.rows = merged.list()
			return res, nil
		}
	}

	query, args := fallbackQuery(qc, caps, candLimit)
	rows, trace, fallbackErr := r.runStage(ctx, b, StageFallback, r.timeouts.Fallback, query, args)
	res.stages = append(res.stages, trace)
	res.rawRows += len(rows)
	merged.addRows(rows)

	if caps.StopAliases {
		query, args := aliasQuery(qc, caps, candLimit)
		res.stages = append(res.stages, r.runAliasStage(ctx, b, StageAlias, query, args, merged, &res.rawRows))
	}
	if caps.AppAliases {
		query, args := appAliasQuery(qc, caps, candLimit)
		res.stages = append(res.stages, r.runAliasStage(ctx, b, StageAppAlias, query, args, merged, &res.rawRows))
	}

	res.rows = merged.list()
	if fallbackErr != nil && len(res.rows) == 0 {
		return res, &RetrievalError{Fallback: fallbackErr, Primary: primaryErr}
	}
	if fallbackErr != nil {
		r.logger.Debug("fallback stage failed", "error", fallbackErr, "rows", len(res.rows))
	}
	return res, nil
}

// runAliasStage runs an alias enrichment stage; its errors are ignored.
func (r *retriever) runAliasStage(ctx context.Context, b *budget.Budget, stage, query string, args []any, merged *candidateSet, rawRows *int) StageTrace {
	rows, trace, err := r.runStage(ctx, b, stage, r.timeouts.Alias, query, args)
	if err != nil {
		r.logger.Debug("alias stage failed", "stage", stage, "error", err)
		return trace
	}
	*rawRows += len(rows)
	merged.addRows(rows)
	return trace
}

// runStage runs one bounded query. A stage with no budget left, or whose
// caller has gone away, is skipped without error. An in-flight stage is
// bounded only by its own timeout.
func (r *retriever) runStage(ctx context.Context, b *budget.Budget, stage string, stageMax time.Duration, query string, args []any) ([]storage.Row, StageTrace, error) {
	trace := StageTrace{Stage: stage}
	timeout := b.TimeoutFor(stageMax, r.timeouts.StageMin)
	if timeout == 0 || ctx.Err() != nil {
		trace.Skipped = true
		r.metrics.StageSkipped(stage)
		r.logger.Debug("stage skipped", "stage", stage, "remaining", b.Remaining())
		return nil, trace, nil
	}
	trace.Timeout = timeout

	start := r.now()
	rows, err := storage.QueryBounded(context.WithoutCancel(ctx), r.store, timeout, query, args...)
	trace.Duration = r.now().Sub(start)
	trace.Rows = len(rows)
	r.metrics.ObserveStage(stage, trace.Duration, len(rows), err)
	if err != nil {
		trace.Error = err.Error()
		return nil, trace, err
	}
	return rows, trace, nil
}

// candidateSet merges rows by stop id in first-seen order.
type candidateSet struct {
	index map[string]int
	rows  []CandidateRow
}

func newCandidateSet() *candidateSet {
	return &candidateSet{index: make(map[string]int)}
}

func (s *candidateSet) len() int {
	return len(s.rows)
}

func (s *candidateSet) list() []CandidateRow {
	return s.rows
}

func (s *candidateSet) addRows(rows []storage.Row) {
	for _, row := range rows {
		c, ok := candidateFromRow(row)
		if !ok {
			continue
		}
		s.add(c)
	}
}

func (s *candidateSet) add(c CandidateRow) {
	i, seen := s.index[c.ID]
	if !seen {
		s.index[c.ID] = len(s.rows)
		s.rows = append(s.rows, c)
		return
	}
	existing := &s.rows[i]
	existing.NameSimilarity = max(existing.NameSimilarity, c.NameSimilarity)
	existing.CoreSimilarity = max(existing.CoreSimilarity, c.CoreSimilarity)
	existing.IsParentLike = existing.IsParentLike || c.IsParentLike
	existing.HasHubToken = existing.HasHubToken || c.HasHubToken
	if existing.ParentName == "" {
		existing.ParentName = c.ParentName
	}
	for _, a := range c.Aliases {
		if !hasAlias(existing.Aliases, a) {
			existing.Aliases = append(existing.Aliases, a)
		}
	}
}

func hasAlias(list []AliasMatch, a AliasMatch) bool {
	for _, e := range list {
		if e.Text == a.Text && e.Source == a.Source {
			return true
		}
	}
	return false
}

// candidateFromRow converts a store row. Rows without id or name are dropped.
func candidateFromRow(row storage.Row) (CandidateRow, bool) {
	id := row.Text("stop_id")
	name := row.Text("stop_name")
	if id == "" || name == "" {
		return CandidateRow{}, false
	}
	parent := row.Text("parent_station")
	locationType := row.Int("location_type")
	c := CandidateRow{
		ID:             id,
		Name:           name,
		ParentStation:  parent,
		ParentName:     row.Text("parent_name"),
		GroupID:        row.Text("group_id"),
		LocationType:   locationType,
		PlatformCode:   row.Text("platform_code"),
		City:           row.Text("city"),
		Popularity:     row.Int("popularity"),
		NameSimilarity: row.Float("name_sim"),
		CoreSimilarity: row.Float("core_sim"),
		IsParentLike:   row.Bool("is_parent") || storage.ParentLike(id, parent, locationType),
		HasHubToken:    row.Bool("has_hub_token") || textnorm.HasHubToken(textnorm.Normalize(name)),
	}
	if c.GroupID == "" {
		c.GroupID = storage.GroupID(id, parent)
	}
	if row.Has("alias_text") {
		c.Aliases = []AliasMatch{{
			Text:       row.Text("alias_text"),
			Norm:       row.Text("alias_norm"),
			Weight:     row.Float("alias_weight"),
			Similarity: row.Float("alias_sim"),
			Source:     row.Text("alias_source"),
		}}
	}
	return c, true
}
