package knnquery

import (
	"log/slog"

	"github.com/hupe1980/knnquery/internal/filter"
	"github.com/hupe1980/knnquery/internal/weight"
)

type options struct {
	logger                       *Logger
	metricsCollector             MetricsCollector
	executor                     Executor
	maxConcurrency               int
	batchThreshold               int
	maxDistanceComputations      int
	filteredExactSearchThreshold int
	shardLevelRescoringDisabled  bool
	exactSearchPartitions        int
	minDocsPerPartition          int
}

// Option configures a Searcher.
type Option func(*options)

// WithLogger configures structured logging for queries.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := knnquery.NewJSONLogger(slog.LevelDebug)
//	s, _ := knnquery.NewSearcher(engine, cache, nil, knnquery.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a metrics collector. Pass nil to disable metrics.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithExecutor runs per-leaf tasks on e instead of the default pool.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithMaxConcurrency bounds the leaves searched concurrently by the default
// executor. Values <= 0 leave it unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

// WithBatchThreshold sets the filter cardinality below which the native
// engine receives a sorted id array instead of a bitmap.
func WithBatchThreshold(n int) Option {
	return func(o *options) {
		o.batchThreshold = n
	}
}

// WithMaxDistanceComputations sets the cardinality*dimension budget under
// which filtered queries skip the native index. It applies only while no
// filtered exact search threshold is configured.
func WithMaxDistanceComputations(n int) Option {
	return func(o *options) {
		o.maxDistanceComputations = n
	}
}

// WithFilteredExactSearchThreshold prefers exact search when the filter
// matches at most n documents. A negative n restores the distance
// computation budget.
func WithFilteredExactSearchThreshold(n int) Option {
	return func(o *options) {
		o.filteredExactSearchThreshold = n
	}
}

// WithShardLevelRescoringDisabled skips the reduction to the first pass k
// before rescoring, so every leaf rescores its own first pass results.
func WithShardLevelRescoringDisabled(disabled bool) Option {
	return func(o *options) {
		o.shardLevelRescoringDisabled = disabled
	}
}

// WithExactSearchPartitions splits exact scans of a leaf into at most n
// concurrent doc ranges of at least minDocs documents each.
// n <= 1 disables partitioning; minDocs <= 0 keeps the default.
func WithExactSearchPartitions(n, minDocs int) Option {
	return func(o *options) {
		o.exactSearchPartitions = n
		o.minDocsPerPartition = minDocs
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:                       NoopLogger(),
		metricsCollector:             NoopMetricsCollector{},
		batchThreshold:               filter.DefaultBatchThreshold,
		maxDistanceComputations:      weight.DefaultMaxDistanceComputations,
		filteredExactSearchThreshold: weight.ThresholdUnset,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.executor == nil {
		o.executor = NewPoolExecutor(o.maxConcurrency)
	}
	return o
}
