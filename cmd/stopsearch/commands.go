package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/dshills/stopsearch/internal/config"
	"github.com/dshills/stopsearch/internal/importer"
	"github.com/dshills/stopsearch/internal/mcp"
	"github.com/dshills/stopsearch/internal/metrics"
	"github.com/dshills/stopsearch/internal/stopsearch"
	"github.com/dshills/stopsearch/internal/storage"
	"github.com/dshills/stopsearch/pkg/types"
)

// backend is an opened gazetteer plus what the commands need from it.
type backend struct {
	store  storage.Store
	status mcp.StatusReporter
	sqlite *storage.SQLiteStore // nil for Postgres
	close  func() error
}

// openBackend selects Postgres when a DSN is configured and SQLite otherwise.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Database.PostgresDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &backend{store: pg, close: pg.Close}, nil
	}

	path, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &backend{store: store, status: store, sqlite: store, close: store.Close}, nil
}

func newEngine(b *backend, cfg *config.Config, m *metrics.Metrics) *stopsearch.Engine {
	return stopsearch.New(b.store,
		stopsearch.WithConfig(cfg.Engine()),
		stopsearch.WithLogger(slog.Default()),
		stopsearch.WithMetrics(m),
	)
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	addr := cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	reg := prometheus.NewRegistry()
	engine := newEngine(b, cfg, metrics.New(reg))

	server, err := mcp.NewServer(engine, b.status, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, stopping")
		return nil
	case err := <-errChan:
		return err
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return types.ErrEmptyQuery
	}

	ctx := context.Background()
	cfg := configFrom(c)
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	engine := newEngine(b, cfg, nil)
	resp, err := engine.Search(ctx, stopsearch.Request{
		Query:     query,
		Limit:     c.Int("limit"),
		NoBackoff: c.Bool("no-backoff"),
	})
	if err != nil {
		return err
	}

	out := c.App.Writer
	switch {
	case c.Bool("debug"):
		return writeJSON(out, resp)
	case c.Bool("json"):
		return writeJSON(out, resp.Stops)
	default:
		printStops(out, resp.Stops)
		return nil
	}
}

func printStops(w io.Writer, stops []types.StopResult) {
	if len(stops) == 0 {
		fmt.Fprintln(w, "no stops found")
		return
	}
	for _, s := range stops {
		line := fmt.Sprintf("%2d. %s [%s]", s.Rank, s.Name, s.ID)
		if s.IsPlatform && s.StationName != "" {
			line += fmt.Sprintf(" at %s", s.StationName)
		}
		if len(s.AliasesMatched) > 0 {
			line += fmt.Sprintf(" (via %s)", strings.Join(s.AliasesMatched, ", "))
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func importCommand(c *cli.Context) error {
	gtfsPath := c.String("gtfs")
	aliasPath := c.String("aliases")
	reindex := c.Bool("reindex")
	if gtfsPath == "" && aliasPath == "" && !reindex {
		return fmt.Errorf("nothing to import: pass --gtfs, --aliases or --reindex")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := configFrom(c)
	if cfg.Database.PostgresDSN != "" {
		return fmt.Errorf("import writes the SQLite gazetteer; unset the postgres dsn")
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	imp := importer.New(b.sqlite, slog.Default())
	out := c.App.Writer

	if gtfsPath != "" {
		stats, err := imp.ImportGTFS(ctx, gtfsPath, &importer.Config{
			Workers:      c.Int("workers"),
			BatchSize:    c.Int("batch-size"),
			KeepEntrance: c.Bool("keep-entrances"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stops: read %d, written %d, skipped %d, failed %d; index rows %d\n",
			stats.StopsRead, stats.StopsWritten, stats.StopsSkipped, stats.StopsFailed, stats.IndexRows)
		printImportErrors(out, stats.ErrorMessages)
	}

	if aliasPath != "" {
		stats, err := imp.ImportAliases(ctx, aliasPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "aliases: %d curated, %d app\n", stats.AliasesWritten, stats.AppAliasesWritten)
		printImportErrors(out, stats.ErrorMessages)
	}

	// A GTFS import already rebuilt the index.
	if reindex && gtfsPath == "" {
		n, err := imp.RebuildIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "search index: %d rows\n", n)
	}
	return nil
}

func printImportErrors(w io.Writer, messages []string) {
	const shown = 5
	for i, msg := range messages {
		if i == shown {
			fmt.Fprintf(w, "  ... and %d more\n", len(messages)-shown)
			return
		}
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func normalizeCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	normalized := stopsearch.NormalizeSearchText(text)
	fmt.Fprintf(c.App.Writer, "normalized: %s\n", normalized)
	fmt.Fprintf(c.App.Writer, "core:       %s\n", stopsearch.StripStopWords(normalized))
	return nil
}

func migrateCommand(c *cli.Context) error {
	ctx := context.Background()
	cfg := configFrom(c)
	if cfg.Database.PostgresDSN != "" {
		return fmt.Errorf("migrations manage the SQLite gazetteer; unset the postgres dsn")
	}

	// Opening the store applies pending migrations.
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	if c.Bool("rollback") {
		if err := storage.RollbackMigration(ctx, b.sqlite.DB()); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	}

	status, err := b.sqlite.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema version: %s\n", status.SchemaVersion)
	return nil
}
