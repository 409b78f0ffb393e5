package knnquery

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/knnquery/model"
)

// Logger wraps slog.Logger with knnquery-specific context.
// This provides structured logging with consistent field names.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithField adds the vector field name to the logger.
func (l *Logger) WithField(field string) *Logger {
	return &Logger{Logger: l.Logger.With("field", field)}
}

// WithSegment adds a segment name to the logger.
func (l *Logger) WithSegment(segment string) *Logger {
	return &Logger{Logger: l.Logger.With("segment", segment)}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{Logger: l.Logger.With("k", k)}
}

// LogSearch logs a completed query.
func (l *Logger) LogSearch(ctx context.Context, field string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "knn search failed",
			"field", field,
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "knn search completed",
		"field", field,
		"k", k,
		"results", resultsFound,
	)
}

// LogRouting logs how a leaf was answered.
func (l *Logger) LogRouting(ctx context.Context, segment string, mode model.SearchMode, cardinality, results int) {
	l.DebugContext(ctx, "leaf searched",
		"segment", segment,
		"mode", mode.String(),
		"cardinality", cardinality,
		"results", results,
	)
}

// LogCacheLoad logs a native index load.
func (l *Logger) LogCacheLoad(ctx context.Context, key string, bytes int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "native index load failed",
			"key", key,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "native index loaded",
		"key", key,
		"bytes", bytes,
		"duration", d,
	)
}

// LogCacheEvict logs a native index eviction.
func (l *Logger) LogCacheEvict(ctx context.Context, key string, bytes int64) {
	l.InfoContext(ctx, "native index evicted",
		"key", key,
		"bytes", bytes,
	)
}

// LogRescore logs a rescoring pass.
func (l *Logger) LogRescore(ctx context.Context, firstPassK, k, results int) {
	l.DebugContext(ctx, "rescore completed",
		"first_pass_k", firstPassK,
		"k", k,
		"results", results,
	)
}
