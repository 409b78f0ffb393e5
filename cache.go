package knnquery

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/internal/nativecache"
	"github.com/hupe1980/knnquery/internal/resource"
	"github.com/hupe1980/knnquery/native"
)

// Cache is the native index cache shared by Searchers.
type Cache = nativecache.Cache

// CacheStats reports cache activity.
type CacheStats = nativecache.Stats

// NewCache creates a native index cache that loads engine files from store.
// The logger and metrics options are wired to load and eviction events.
func NewCache(engine native.Engine, store blobstore.BlobStore, cfg CacheConfig, optFns ...Option) *Cache {
	o := applyOptions(optFns)
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   cfg.MemoryLimitBytes,
		MaxConcurrentLoads: cfg.MaxConcurrentLoads,
		IOLimitBytesPerSec: cfg.IOBytesPerSecond,
	})
	return nativecache.New(engine, store, nativecache.Options{
		CapacityBytes: cfg.CapacityBytes,
		Shards:        cfg.Shards,
		Resources:     rc,
		// load and eviction events are logged through the hooks
		Logger:        slog.New(slog.DiscardHandler),
		OnLoad: func(key nativecache.Key, bytes int64, d time.Duration, err error) {
			o.logger.LogCacheLoad(context.Background(), key.String(), bytes, d, err)
			o.metricsCollector.RecordCacheLoad(bytes, d, err)
		},
		OnEvict: func(key nativecache.Key, bytes int64) {
			o.logger.LogCacheEvict(context.Background(), key.String(), bytes)
			o.metricsCollector.RecordCacheEviction(bytes)
		},
	})
}
