package middb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with middb-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// LogUpsert logs an upsert submission.
func (l *Logger) LogUpsert(ctx context.Context, table, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert rejected",
			"table", table,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "upsert enqueued",
			"table", table,
			"id", id,
		)
	}
}

// LogDelete logs a delete submission.
func (l *Logger) LogDelete(ctx context.Context, table, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete rejected",
			"table", table,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete enqueued",
			"table", table,
			"id", id,
		)
	}
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, kind, table string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"kind", kind,
			"table", table,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"kind", kind,
			"table", table,
			"results", results,
		)
	}
}

// LogFlush logs a flush barrier.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed", "error", err)
	} else {
		l.DebugContext(ctx, "flush completed")
	}
}
