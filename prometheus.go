package knnquery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/knnquery/model"
)

// PrometheusCollector exports MetricsCollector events as Prometheus metrics.
type PrometheusCollector struct {
	queryLatency *prometheus.HistogramVec
	graphQueries *prometheus.CounterVec
	cacheLoads   *prometheus.CounterVec
	loadLatency  prometheus.Histogram
	cacheBytes   prometheus.Gauge
	evictions    prometheus.Counter
}

// NewPrometheusCollector creates a collector and registers its metrics on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knn_leaf_query_latency_seconds",
			Help:    "Latency of k-NN queries per leaf",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		graphQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knn_graph_queries_total",
			Help: "Total native index searches",
		}, []string{"status"}),
		cacheLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knn_cache_loads_total",
			Help: "Total native index loads",
		}, []string{"status"}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "knn_cache_load_latency_seconds",
			Help:    "Latency of native index loads",
			Buckets: prometheus.DefBuckets,
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "knn_cache_size_bytes",
			Help: "Bytes of loaded native indexes",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knn_cache_evictions_total",
			Help: "Total native index evictions",
		}),
	}
	for _, c := range []prometheus.Collector{p.queryLatency, p.graphQueries, p.cacheLoads, p.loadLatency, p.cacheBytes, p.evictions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQuery implements MetricsCollector.
func (p *PrometheusCollector) RecordQuery(mode model.SearchMode, duration time.Duration, err error) {
	p.queryLatency.WithLabelValues(mode.String(), status(err)).Observe(duration.Seconds())
}

// RecordGraphQuery implements MetricsCollector.
func (p *PrometheusCollector) RecordGraphQuery(err error) {
	p.graphQueries.WithLabelValues(status(err)).Inc()
}

// RecordCacheLoad implements MetricsCollector.
func (p *PrometheusCollector) RecordCacheLoad(bytes int64, duration time.Duration, err error) {
	p.cacheLoads.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	p.loadLatency.Observe(duration.Seconds())
	p.cacheBytes.Add(float64(bytes))
}

// RecordCacheEviction implements MetricsCollector.
func (p *PrometheusCollector) RecordCacheEviction(bytes int64) {
	p.evictions.Inc()
	p.cacheBytes.Sub(float64(bytes))
}
