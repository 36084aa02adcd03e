// Package logging configures slog for the stop search tools and provides
// WarnOnce, an owned set of warning keys that are logged a single time.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup installs a text handler writing to w at the given level as the
// default logger and returns it.
func Setup(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

// WarnOnce logs each distinct warning key at most once.
type WarnOnce struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger *slog.Logger
}

// NewWarnOnce creates an empty set logging through logger.
// A nil logger uses slog.Default().
func NewWarnOnce(logger *slog.Logger) *WarnOnce {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarnOnce{seen: make(map[string]struct{}), logger: logger}
}

// Warn logs msg at warn level unless key was already warned about.
// It reports whether the warning was emitted.
func (w *WarnOnce) Warn(key, msg string, args ...any) bool {
	w.mu.Lock()
	if _, ok := w.seen[key]; ok {
		w.mu.Unlock()
		return false
	}
	w.seen[key] = struct{}{}
	w.mu.Unlock()

	w.logger.Warn(msg, append(args, "warning_key", key)...)
	return true
}

// Seen reports whether key has been warned about.
func (w *WarnOnce) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

// Reset forgets every key.
func (w *WarnOnce) Reset() {
	w.mu.Lock()
	w.seen = make(map[string]struct{})
	w.mu.Unlock()
}
