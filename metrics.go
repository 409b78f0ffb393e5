package knnquery

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/knnquery/model"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems, or use
// PrometheusCollector.
type MetricsCollector interface {
	// RecordQuery is called once per searched leaf with the mode that
	// answered it.
	RecordQuery(mode model.SearchMode, duration time.Duration, err error)

	// RecordGraphQuery is called after each native index search.
	RecordGraphQuery(err error)

	// RecordCacheLoad is called after each native index load attempt.
	RecordCacheLoad(bytes int64, duration time.Duration, err error)

	// RecordCacheEviction is called after a native index is released.
	RecordCacheEviction(bytes int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(model.SearchMode, time.Duration, error) {}
func (NoopMetricsCollector) RecordGraphQuery(error)                              {}
func (NoopMetricsCollector) RecordCacheLoad(int64, time.Duration, error)         {}
func (NoopMetricsCollector) RecordCacheEviction(int64)                           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ExactQueries       atomic.Int64
	ApproximateQueries atomic.Int64
	QueryErrors        atomic.Int64
	QueryTotalNanos    atomic.Int64
	GraphQueries       atomic.Int64
	GraphErrors        atomic.Int64
	CacheLoads         atomic.Int64
	CacheLoadErrors    atomic.Int64
	CacheLoadedBytes   atomic.Int64
	CacheEvictions     atomic.Int64
	CacheEvictedBytes  atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(mode model.SearchMode, duration time.Duration, err error) {
	switch mode {
	case model.SearchModeExact:
		b.ExactQueries.Add(1)
	case model.SearchModeApproximate:
		b.ApproximateQueries.Add(1)
	}
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordGraphQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGraphQuery(err error) {
	b.GraphQueries.Add(1)
	if err != nil {
		b.GraphErrors.Add(1)
	}
}

// RecordCacheLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLoad(bytes int64, _ time.Duration, err error) {
	b.CacheLoads.Add(1)
	if err != nil {
		b.CacheLoadErrors.Add(1)
		return
	}
	b.CacheLoadedBytes.Add(bytes)
}

// RecordCacheEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheEviction(bytes int64) {
	b.CacheEvictions.Add(1)
	b.CacheEvictedBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ExactQueries:       b.ExactQueries.Load(),
		ApproximateQueries: b.ApproximateQueries.Load(),
		QueryErrors:        b.QueryErrors.Load(),
		QueryAvgNanos:      b.getAvgQueryNanos(),
		GraphQueries:       b.GraphQueries.Load(),
		GraphErrors:        b.GraphErrors.Load(),
		CacheLoads:         b.CacheLoads.Load(),
		CacheLoadErrors:    b.CacheLoadErrors.Load(),
		CacheLoadedBytes:   b.CacheLoadedBytes.Load(),
		CacheEvictions:     b.CacheEvictions.Load(),
		CacheEvictedBytes:  b.CacheEvictedBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.ExactQueries.Load() + b.ApproximateQueries.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ExactQueries       int64
	ApproximateQueries int64
	QueryErrors        int64
	QueryAvgNanos      int64
	GraphQueries       int64
	GraphErrors        int64
	CacheLoads         int64
	CacheLoadErrors    int64
	CacheLoadedBytes   int64
	CacheEvictions     int64
	CacheEvictedBytes  int64
}
