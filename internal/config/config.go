// Package config loads stop search settings.
//
// Settings come from, in increasing priority:
//   - Programmatic defaults (Default)
//   - An optional YAML file
//   - Environment variables
//
// Environment Variables:
//
//	STOPSEARCH_DB_PATH              - SQLite gazetteer file (default: ~/.stopsearch/gazetteer.db)
//	STOPSEARCH_PG_DSN               - Postgres DSN; when set, searches use Postgres
//	STOPSEARCH_BUDGET_MS            - Total search budget (default: 1800, floor: 300)
//	STOPSEARCH_PROBE_TIMEOUT_MS     - Capability probe timeout (default: 250)
//	STOPSEARCH_PRIMARY_TIMEOUT_MS   - Primary query timeout (default: 900)
//	STOPSEARCH_FALLBACK_TIMEOUT_MS  - Fallback query timeout (default: 700)
//	STOPSEARCH_ALIAS_TIMEOUT_MS     - Alias query timeout (default: 250)
//	STOPSEARCH_LOG_LEVEL            - debug, info, warn or error (default: info)
//	STOPSEARCH_METRICS_ADDR         - Address for the /metrics endpoint (default: disabled)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/stopsearch/internal/stopsearch"
)

// DefaultDBPath is the default gazetteer location.
const DefaultDBPath = "~/.stopsearch/gazetteer.db"

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig selects the gazetteer store.
type DatabaseConfig struct {
	// Path is the SQLite file used when PostgresDSN is empty
	Path string `yaml:"path"`
	// PostgresDSN selects the Postgres store
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SearchConfig holds the search budget and limits, in milliseconds where
// the name says so.
type SearchConfig struct {
	BudgetMS            int `yaml:"budget_ms"`
	ProbeTimeoutMS      int `yaml:"probe_timeout_ms"`
	PrimaryTimeoutMS    int `yaml:"primary_timeout_ms"`
	FallbackTimeoutMS   int `yaml:"fallback_timeout_ms"`
	AliasTimeoutMS      int `yaml:"alias_timeout_ms"`
	StageMinTimeoutMS   int `yaml:"stage_min_timeout_ms"`
	CapabilityTTLSecond int `yaml:"capability_ttl_seconds"`
	DefaultLimit        int `yaml:"default_limit"`
	MaxLimit            int `yaml:"max_limit"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	engine := stopsearch.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath},
		Search: SearchConfig{
			BudgetMS:            int(engine.TotalBudget.Milliseconds()),
			ProbeTimeoutMS:      int(engine.ProbeTimeout.Milliseconds()),
			PrimaryTimeoutMS:    int(engine.PrimaryTimeout.Milliseconds()),
			FallbackTimeoutMS:   int(engine.FallbackTimeout.Milliseconds()),
			AliasTimeoutMS:      int(engine.AliasTimeout.Milliseconds()),
			StageMinTimeoutMS:   int(engine.StageMinTimeout.Milliseconds()),
			CapabilityTTLSecond: int(engine.CapabilityTTL.Seconds()),
			DefaultLimit:        engine.DefaultLimit,
			MaxLimit:            engine.MaxLimit,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults and then applies the
// process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from lookup. Invalid numbers are errors;
// unset variables keep the current value.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STOPSEARCH_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("STOPSEARCH_PG_DSN"); ok && v != "" {
		c.Database.PostgresDSN = v
	}
	if v, ok := lookup("STOPSEARCH_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("STOPSEARCH_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}

	millis := []struct {
		key string
		dst *int
	}{
		{"STOPSEARCH_BUDGET_MS", &c.Search.BudgetMS},
		{"STOPSEARCH_PROBE_TIMEOUT_MS", &c.Search.ProbeTimeoutMS},
		{"STOPSEARCH_PRIMARY_TIMEOUT_MS", &c.Search.PrimaryTimeoutMS},
		{"STOPSEARCH_FALLBACK_TIMEOUT_MS", &c.Search.FallbackTimeoutMS},
		{"STOPSEARCH_ALIAS_TIMEOUT_MS", &c.Search.AliasTimeoutMS},
	}
	var errs []error
	for _, m := range millis {
		v, ok := lookup(m.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", m.key, v))
			continue
		}
		*m.dst = n
	}
	return errors.Join(errs...)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Database.Path == "" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database path or postgres dsn is required")
	}
	if c.Search.MaxLimit < 0 || c.Search.DefaultLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Search.MaxLimit > 0 && c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	return nil
}

// Engine converts the search section to the engine's configuration.
// Zero values fall back to engine defaults; the budget floor applies.
func (c *Config) Engine() stopsearch.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return stopsearch.Config{
		TotalBudget:     ms(c.Search.BudgetMS),
		ProbeTimeout:    ms(c.Search.ProbeTimeoutMS),
		PrimaryTimeout:  ms(c.Search.PrimaryTimeoutMS),
		FallbackTimeout: ms(c.Search.FallbackTimeoutMS),
		AliasTimeout:    ms(c.Search.AliasTimeoutMS),
		StageMinTimeout: ms(c.Search.StageMinTimeoutMS),
		CapabilityTTL:   time.Duration(c.Search.CapabilityTTLSecond) * time.Second,
		DefaultLimit:    c.Search.DefaultLimit,
		MaxLimit:        c.Search.MaxLimit,
	}
}

// ResolveDBPath expands a leading ~ and creates the parent directory.
func (c *Config) ResolveDBPath() (string, error) {
	path := c.Database.Path
	if path == "" {
		path = DefaultDBPath
	}
	if path == ":memory:" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return path, nil
}
