package lance

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with consistent field names for index operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON records to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger emitting human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// LogTrain logs an index training run.
func (l *Logger) LogTrain(ctx context.Context, kind string, samples int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed",
			"index", kind,
			"samples", samples,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training completed",
			"index", kind,
			"samples", samples,
		)
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", id, "error", err)
	} else {
		l.DebugContext(ctx, "insert completed", "id", id)
	}
}

// LogBulkLoad logs a bulk load.
func (l *Logger) LogBulkLoad(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "bulk load completed with failures",
			"total", count,
			"failed", failed,
		)
	} else {
		l.InfoContext(ctx, "bulk load completed", "count", count)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "k", k, "results", found)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id uint64) {
	l.DebugContext(ctx, "delete completed", "id", id)
}

// LogArtifact logs an artifact save or load.
func (l *Logger) LogArtifact(ctx context.Context, op, kind string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "artifact operation failed",
			"op", op,
			"index", kind,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "artifact operation completed",
			"op", op,
			"index", kind,
		)
	}
}
