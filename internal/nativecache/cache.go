package nativecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/internal/resource"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
)

// ErrMemoryLimitExceeded is returned when an index cannot be admitted.
var ErrMemoryLimitExceeded = model.ErrMemoryLimitExceeded

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("nativecache: closed")

// DefaultShards is the number of LRU shards when Options.Shards is unset.
const DefaultShards = 16

// Key identifies a loaded index: an engine file within a segment.
type Key struct {
	File    string
	Segment model.SegmentID
}

func (k Key) String() string {
	return strconv.FormatUint(uint64(k.Segment), 10) + "/" + k.File
}

func (k Key) hash() uint64 {
	return xxhash.Sum64String(k.String())
}

// Options configures a Cache.
type Options struct {
	// CapacityBytes bounds the total size of loaded indexes. 0 means
	// unbounded apart from the resource controller's memory limit.
	CapacityBytes int64
	// Shards is the number of LRU shards. Defaults to DefaultShards.
	Shards int
	// Resources admits memory and throttles loads. May be nil.
	Resources *resource.Controller
	Logger    *slog.Logger
	// OnLoad is called after every load attempt.
	OnLoad func(key Key, bytes int64, d time.Duration, err error)
	// OnEvict is called after an index is released.
	OnEvict func(key Key, bytes int64)
}

// Stats reports cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Evictions int64
	Entries   int
	SizeBytes int64
}

// Cache loads native indexes from a blob store and keeps them in memory.
// It is safe for concurrent use.
type Cache struct {
	engine native.Engine
	store  blobstore.BlobStore
	opts   Options
	logger *slog.Logger

	shards []*lru
	arena  arena
	loads  singleflight.Group

	size      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	loadCount atomic.Int64
	evictions atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a cache that loads engine files from store with engine.
func New(engine native.Engine, store blobstore.BlobStore, opts Options) *Cache {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Cache{
		engine: engine,
		store:  store,
		opts:   opts,
		logger: logger,
		shards: make([]*lru, opts.Shards),
	}
	for i := range c.shards {
		c.shards[i] = newLRU()
	}
	return c
}

// Engine returns the engine the cache loads with.
func (c *Cache) Engine() native.Engine { return c.engine }

func (c *Cache) shard(key Key) int {
	return int(key.hash() % uint64(len(c.shards)))
}

// Acquire returns a handle for key, loading the index on a miss.
// A cold load may block on I/O.
func (c *Cache) Acquire(ctx context.Context, key Key) (*Handle, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if h, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return h, nil
	}
	c.misses.Add(1)

	// the shared load outlives any single caller; each caller only stops
	// waiting when its own ctx is done
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(key.String(), func() (any, error) {
		if h, ok := c.lookup(key); ok {
			return h, nil
		}
		return c.load(loadCtx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Handle), nil
	}
}

func (c *Cache) lookup(key Key) (*Handle, bool) {
	e, ok := c.shards[c.shard(key)].get(key)
	if !ok {
		return nil, false
	}
	return &Handle{s: c.arena.get(e.slot), gen: e.gen, key: key, size: e.size}, true
}

func (c *Cache) load(ctx context.Context, key Key) (h *Handle, err error) {
	start := time.Now()
	var size int64
	defer func() {
		c.loadCount.Add(1)
		if c.opts.OnLoad != nil {
			c.opts.OnLoad(key, size, time.Since(start), err)
		}
		if err != nil {
			c.logger.Error("native index load failed", "file", key.File, "segment", key.Segment, "error", err)
			return
		}
		c.logger.Info("native index loaded", "file", key.File, "segment", key.Segment,
			"bytes", size, "duration", time.Since(start))
	}()

	rc := c.opts.Resources
	if err := rc.AcquireLoad(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseLoad()

	blob, err := c.store.Open(ctx, key.File)
	if err != nil {
		return nil, err
	}
	// mapped blob bytes are valid until Close
	defer blob.Close()

	data, err := c.read(ctx, key.File, blob)
	if err != nil {
		return nil, err
	}
	idx, err := c.engine.Load(key.File, data)
	if err != nil {
		return nil, err
	}
	size = idx.SizeBytes()

	if err := c.admit(size); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	id, gen := c.arena.alloc(key, idx, size)
	c.shards[c.shard(key)].add(entry{key: key, slot: id, gen: gen, size: size})
	c.size.Add(size)
	return &Handle{s: c.arena.get(id), gen: gen, key: key, size: size}, nil
}

func (c *Cache) read(ctx context.Context, name string, blob blobstore.Blob) ([]byte, error) {
	if m, ok := blob.(blobstore.Mappable); ok {
		if b, err := m.Bytes(); err == nil {
			if err := c.opts.Resources.AcquireIO(ctx, len(b)); err != nil {
				return nil, err
			}
			return b, nil
		}
	}

	buf := make([]byte, blob.Size())
	r := io.NewSectionReader(c.opts.Resources.ReaderAt(ctx, blob), 0, blob.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf, nil
}

// admit reserves size bytes, evicting least recently used entries until
// both the capacity and the memory limit allow it.
func (c *Cache) admit(size int64) error {
	if c.opts.CapacityBytes > 0 && size > c.opts.CapacityBytes {
		return fmt.Errorf("%w: index of %d bytes exceeds cache capacity %d", ErrMemoryLimitExceeded, size, c.opts.CapacityBytes)
	}
	for c.opts.CapacityBytes > 0 && c.size.Load()+size > c.opts.CapacityBytes {
		if !c.evictOne() {
			break
		}
	}
	for {
		err := c.opts.Resources.AcquireMemory(size)
		if err == nil {
			return nil
		}
		if !c.evictOne() {
			return err
		}
	}
}

// evictOne evicts the least recently used entry of the first non-empty shard.
func (c *Cache) evictOne() bool {
	for _, s := range c.shards {
		if e, ok := s.oldest(); ok {
			c.destroy(e)
			return true
		}
	}
	return false
}

func (c *Cache) destroy(e entry) {
	if _, err := c.arena.release(e.slot); err != nil {
		c.logger.Error("native index close failed", "file", e.key.File, "segment", e.key.Segment, "error", err)
	}
	c.size.Add(-e.size)
	c.opts.Resources.ReleaseMemory(e.size)
	c.evictions.Add(1)
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(e.key, e.size)
	}
	c.logger.Info("native index evicted", "file", e.key.File, "segment", e.key.Segment, "bytes", e.size)
}

// Evict releases the index for key. It blocks until current readers are done.
func (c *Cache) Evict(key Key) bool {
	e, ok := c.shards[c.shard(key)].remove(key)
	if ok {
		c.destroy(e)
	}
	return ok
}

// Invalidate evicts every entry whose key matches the predicate, e.g. all
// files of a merged-away segment.
func (c *Cache) Invalidate(predicate func(Key) bool) int {
	n := 0
	for _, s := range c.shards {
		for _, e := range s.removeIf(predicate) {
			c.destroy(e)
			n++
		}
	}
	return n
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loadCount.Load(),
		Evictions: c.evictions.Load(),
		SizeBytes: c.size.Load(),
	}
	for _, s := range c.shards {
		st.Entries += s.len()
	}
	return st
}

// Close evicts every entry. Subsequent calls to Acquire fail.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.Invalidate(func(Key) bool { return true })
	})
	return nil
}
