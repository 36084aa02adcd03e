package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dshills/stopsearch/internal/storage"
)

// ErrImportInProgress is returned when another import holds the lock.
var ErrImportInProgress = errors.New("import already in progress")

// Importer coordinates the loading pipeline: parse -> convert -> store -> index
type Importer struct {
	store  storage.Gazetteer
	logger *slog.Logger
	lock   ImportLock

	// Worker pool configuration
	workers int
}

// Config contains configuration for a GTFS import
type Config struct {
	Workers      int  // Number of conversion workers (default: runtime.NumCPU())
	BatchSize    int  // Number of stops to commit per transaction (default: 20)
	SkipIndex    bool // Leave stop_search_index untouched after the import
	KeepEntrance bool // Import GTFS entrances, generic nodes and boarding areas
}

// Statistics contains statistics about an import
type Statistics struct {
	StopsRead         int
	StopsWritten      int
	StopsSkipped      int
	StopsFailed       int
	AliasesWritten    int
	AppAliasesWritten int
	IndexRows         int
	Duration          time.Duration
	ErrorMessages     []string
}

// AliasFile is the YAML layout accepted by ImportAliases
type AliasFile struct {
	Aliases    []AliasEntry `yaml:"aliases"`
	AppAliases []AliasEntry `yaml:"app_aliases"`
}

// AliasEntry is one alias line of an AliasFile
type AliasEntry struct {
	StopID string  `yaml:"stop_id"`
	Text   string  `yaml:"text"`
	Weight float64 `yaml:"weight"`
}

// New creates a new Importer writing to store
func New(store storage.Gazetteer, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{
		store:   store,
		logger:  logger,
		workers: runtime.NumCPU(),
	}
}

// ImportGTFS loads the stops of the GTFS static feed at path
func (imp *Importer) ImportGTFS(ctx context.Context, path string, config *Config) (*Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return imp.ImportGTFSBytes(ctx, data, config)
}

// ImportGTFSBytes loads the stops of an in-memory GTFS static zip
func (imp *Importer) ImportGTFSBytes(ctx context.Context, data []byte, config *Config) (*Statistics, error) {
	if !imp.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer imp.lock.Release()

	if config == nil {
		config = &Config{BatchSize: 20}
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	imp.workers = config.Workers

	startTime := time.Now()
	stats := &Statistics{
		ErrorMessages: make([]string, 0),
	}

	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	stats.StopsRead = len(static.Stops)

	stops, err := imp.convertStops(ctx, static, config, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to convert stops: %w", err)
	}

	if err := imp.storeStops(ctx, stops, config, stats); err != nil {
		return nil, fmt.Errorf("failed to store stops: %w", err)
	}

	if !config.SkipIndex {
		n, err := imp.store.RebuildSearchIndex(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild search index: %w", err)
		}
		stats.IndexRows = n
	}

	stats.Duration = time.Since(startTime)
	imp.logger.Info("gtfs import finished",
		"read", stats.StopsRead,
		"written", stats.StopsWritten,
		"skipped", stats.StopsSkipped,
		"failed", stats.StopsFailed,
		"index_rows", stats.IndexRows,
		"duration", stats.Duration)
	return stats, nil
}

// groupPopularity counts scheduled stop events per station group
func groupPopularity(static *gtfs.Static) map[string]int {
	counts := make(map[string]int)
	for i := range static.Trips {
		for _, st := range static.Trips[i].StopTimes {
			if st.Stop == nil {
				continue
			}
			counts[storage.GroupID(st.Stop.Id, parentID(st.Stop))]++
		}
	}
	return counts
}

func parentID(s *gtfs.Stop) string {
	if s.Parent == nil {
		return ""
	}
	return s.Parent.Id
}

// gtfsLocationType maps a parsed stop type back to its GTFS location_type
// code. go-gtfs reports a location_type 0 stop with a parent station as a
// platform.
func gtfsLocationType(t gtfs.StopType) int {
	if t == gtfs.StopType_Platform {
		return 0
	}
	return int(t)
}

// isAccessNode reports entrances, generic nodes and boarding areas.
func isAccessNode(locationType int) bool {
	return locationType >= 2 && locationType <= 4
}

// cityOf returns the locality of a "City, Place" style stop name
func cityOf(name string) string {
	head, _, ok := strings.Cut(name, ",")
	if !ok {
		return ""
	}
	return strings.TrimSpace(head)
}

// convertStops turns GTFS stops into gazetteer records concurrently.
// Output order follows the feed.
func (imp *Importer) convertStops(ctx context.Context, static *gtfs.Static, config *Config, stats *Statistics) ([]*storage.Stop, error) {
	popularity := groupPopularity(static)
	out := make([]*storage.Stop, len(static.Stops))

	var skipped int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.workers)

	for i := range static.Stops {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src := &static.Stops[i]
			locType := gtfsLocationType(src.Type)
			if isAccessNode(locType) && !config.KeepEntrance {
				atomic.AddInt32(&skipped, 1)
				return nil
			}
			parent := parentID(src)
			city := cityOf(src.Name)
			if city == "" && src.Parent != nil {
				city = cityOf(src.Parent.Name)
			}
			out[i] = &storage.Stop{
				ID:            src.Id,
				Name:          strings.TrimSpace(src.Name),
				ParentStation: parent,
				LocationType:  locType,
				PlatformCode:  src.PlatformCode,
				City:          city,
				Popularity:    popularity[storage.GroupID(src.Id, parent)],
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.StopsSkipped = int(skipped)

	stations := make([]*storage.Stop, 0, len(out))
	children := make([]*storage.Stop, 0, len(out))
	for _, s := range out {
		switch {
		case s == nil:
		case s.ParentStation == "":
			stations = append(stations, s)
		default:
			children = append(children, s)
		}
	}
	return append(stations, children...), nil
}

// storeStops writes stops in batched transactions
func (imp *Importer) storeStops(ctx context.Context, stops []*storage.Stop, config *Config, stats *Statistics) error {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	var written, failed int32
	var mu sync.Mutex // Protect stats.ErrorMessages

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.workers)
	for i := 0; i < len(stops); i += batchSize {
		batch := stops[i:min(i+batchSize, len(stops))]
		g.Go(func() error {
			return imp.storeBatch(gctx, batch, &written, &failed, &mu, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats.StopsWritten = int(written)
	stats.StopsFailed = int(failed)
	return nil
}

// storeBatch writes one batch within a transaction
func (imp *Importer) storeBatch(ctx context.Context, batch []*storage.Stop, written, failed *int32,
	mu *sync.Mutex, stats *Statistics) error {

	tx, err := imp.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stop := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.UpsertStop(ctx, stop); err != nil {
			atomic.AddInt32(failed, 1)
			mu.Lock()
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", stop.ID, err))
			mu.Unlock()
			// Continue with other stops
			continue
		}
		atomic.AddInt32(written, 1)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ImportAliases loads an AliasFile from path
func (imp *Importer) ImportAliases(ctx context.Context, path string) (*Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}
	var file AliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}
	return imp.ImportAliasFile(ctx, &file)
}

// ImportAliasFile stores curated aliases in one transaction and appends
// application aliases. Bad entries are recorded and skipped.
func (imp *Importer) ImportAliasFile(ctx context.Context, file *AliasFile) (*Statistics, error) {
	if !imp.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer imp.lock.Release()

	startTime := time.Now()
	stats := &Statistics{
		ErrorMessages: make([]string, 0),
	}

	tx, err := imp.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range file.Aliases {
		alias := &storage.Alias{StopID: a.StopID, Text: a.Text, Weight: a.Weight}
		if err := tx.UpsertAlias(ctx, alias); err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("alias %q: %v", a.Text, err))
			continue
		}
		stats.AliasesWritten++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, a := range file.AppAliases {
		alias := &storage.Alias{StopID: a.StopID, Text: a.Text, Weight: a.Weight}
		if err := imp.store.AddAppAlias(ctx, alias); err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("app alias %q: %v", a.Text, err))
			continue
		}
		stats.AppAliasesWritten++
	}

	stats.Duration = time.Since(startTime)
	imp.logger.Info("alias import finished",
		"aliases", stats.AliasesWritten,
		"app_aliases", stats.AppAliasesWritten,
		"errors", len(stats.ErrorMessages))
	return stats, nil
}

// RebuildIndex recomputes stop_search_index
func (imp *Importer) RebuildIndex(ctx context.Context) (int, error) {
	if !imp.lock.TryAcquire() {
		return 0, ErrImportInProgress
	}
	defer imp.lock.Release()

	n, err := imp.store.RebuildSearchIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild search index: %w", err)
	}
	imp.logger.Info("search index rebuilt", "rows", n)
	return n, nil
}
