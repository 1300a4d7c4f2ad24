// Package observability provides structured logging and Prometheus metrics.
//
// Every log line emitted during a conversational round carries the round's
// turn id, so journal, index and backend failures can be correlated.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// turnKey is the unexported context key used to store the turn id.
type turnKey struct{}

// Setup builds a logger for the given level ("debug", "info", "warn",
// "error") and format ("text" or "json") and installs it as the slog default.
// A nil writer means stderr, which keeps the REPL's stdout clean.
func Setup(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithTurn returns a child context carrying the given turn id.
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnID)
}

// TurnID extracts the turn id from ctx, returning "" if absent.
func TurnID(ctx context.Context) string {
	if v, ok := ctx.Value(turnKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns base (or the default logger when base is nil) with the
// turn id from ctx attached.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := TurnID(ctx); id != "" {
		return base.With("turn_id", id)
	}
	return base
}
