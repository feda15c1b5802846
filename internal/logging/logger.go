// Package logging wraps log/slog with omengrep-specific helpers.
//
// All output goes to stderr. stdout is reserved for search results and for
// the MCP stdio transport.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with consistent field names for index builds
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to w in the given format ("text" or "json")
func New(w io.Writer, format string, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithBuild tags every record with the build id
func (l *Logger) WithBuild(buildID string) *Logger {
	return &Logger{Logger: l.Logger.With("build_id", buildID)}
}

// LogState records a build state transition
func (l *Logger) LogState(ctx context.Context, state string, attrs ...any) {
	l.InfoContext(ctx, "build state", append([]any{"state", state}, attrs...)...)
}

// LogFile logs the outcome of processing a single file
func (l *Logger) LogFile(ctx context.Context, path string, blocks int, err error) {
	if err != nil {
		l.WarnContext(ctx, "file failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "file indexed",
		"path", path,
		"blocks", blocks,
	)
}

// LogBatch logs an embedding batch
func (l *Logger) LogBatch(ctx context.Context, size int, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "embed batch failed",
			"size", size,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "embed batch completed",
		"size", size,
		"elapsed", elapsed,
	)
}

// LogSearch logs a query
func (l *Logger) LogSearch(ctx context.Context, query string, results int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"query", query,
		"results", results,
		"elapsed", elapsed,
	)
}
