package nativecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/internal/resource"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/native/flat"
)

// putIndex stores a flat index of n two-dimensional vectors (120 bytes for n=10).
func putIndex(t *testing.T, store *blobstore.MemoryStore, name string, n int) {
	t.Helper()
	docs := make([]model.DocID, n)
	vecs := make([][]float32, n)
	for i := range docs {
		docs[i] = model.DocID(i)
		vecs[i] = []float32{float32(i), float32(i)}
	}
	data, err := flat.EncodeFloat(distance.SpaceL2, docs, vecs)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), name, data))
}

func search(t *testing.T, h *Handle) []native.Result {
	t.Helper()
	h.RLock()
	defer h.RUnlock()
	require.True(t, h.IncRef())
	defer h.DecRef()
	rs, err := h.Index().Search(context.Background(), &native.Request{Vector: []float32{3, 3}, K: 1})
	require.NoError(t, err)
	return rs
}

func TestAcquire(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	c := New(flat.New(), store, Options{})
	defer c.Close()

	key := Key{File: "a.flat", Segment: 1}
	h1, err := c.Acquire(context.Background(), key)
	require.NoError(t, err)
	h2, err := c.Acquire(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, model.DocID(3), search(t, h1)[0].Doc)
	assert.Equal(t, model.DocID(3), search(t, h2)[0].Doc)
	assert.Equal(t, int64(120), h1.SizeBytes())

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Loads)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, int64(120), st.SizeBytes)
}

func TestAcquireConcurrentLoadsOnce(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	c := New(flat.New(), store, Options{})
	defer c.Close()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Stats().Entries)
}

// gatedStore blocks Open until release is closed.
type gatedStore struct {
	*blobstore.MemoryStore
	opened  chan struct{}
	release chan struct{}
}

func (g *gatedStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	g.opened <- struct{}{}
	<-g.release
	return g.MemoryStore.Open(ctx, name)
}

func TestAcquireLoadSurvivesCancelledCaller(t *testing.T) {
	mem := blobstore.NewMemoryStore()
	putIndex(t, mem, "a.flat", 10)
	store := &gatedStore{MemoryStore: mem, opened: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(flat.New(), store, Options{})
	defer c.Close()
	key := Key{File: "a.flat", Segment: 1}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, key)
		first <- err
	}()
	<-store.opened

	type result struct {
		h   *Handle
		err error
	}
	second := make(chan result, 1)
	go func() {
		h, err := c.Acquire(context.Background(), key)
		second <- result{h, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(store.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, model.DocID(3), search(t, r.h)[0].Doc)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not receive the shared load")
	}
	assert.Equal(t, int64(1), c.Stats().Loads)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestAcquireMissingFile(t *testing.T) {
	c := New(flat.New(), blobstore.NewMemoryStore(), Options{})
	_, err := c.Acquire(context.Background(), Key{File: "missing", Segment: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, int64(1), c.Stats().Loads)
}

func TestEvictionRace(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	c := New(flat.New(), store, Options{})
	key := Key{File: "a.flat", Segment: 7}

	h, err := c.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.True(t, c.Evict(key))

	h.RLock()
	assert.False(t, h.IncRef())
	assert.True(t, h.IsClosed())
	assert.Nil(t, h.Index())
	h.RUnlock()

	// the slot is recycled; the stale token must stay rejected
	h2, err := c.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, h.IncRef())
	assert.False(t, h2.IsClosed())
	assert.Equal(t, model.DocID(3), search(t, h2)[0].Doc)
}

func TestEvictionWaitsForReaders(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	c := New(flat.New(), store, Options{})
	key := Key{File: "a.flat", Segment: 1}

	h, err := c.Acquire(context.Background(), key)
	require.NoError(t, err)
	h.RLock()
	require.True(t, h.IncRef())

	done := make(chan struct{})
	go func() {
		c.Evict(key)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("eviction completed while a reader held the index")
	case <-time.After(50 * time.Millisecond):
	}
	assert.NotNil(t, h.Index())

	h.DecRef()
	h.RUnlock()
	<-done
	assert.True(t, h.IsClosed())
}

func TestCapacityEviction(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	putIndex(t, store, "b.flat", 10)

	var evicted []Key
	c := New(flat.New(), store, Options{
		CapacityBytes: 200,
		Shards:        1,
		OnEvict:       func(k Key, _ int64) { evicted = append(evicted, k) },
	})

	a, err := c.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
	require.NoError(t, err)
	_, err = c.Acquire(context.Background(), Key{File: "b.flat", Segment: 1})
	require.NoError(t, err)

	assert.True(t, a.IsClosed())
	assert.Equal(t, []Key{{File: "a.flat", Segment: 1}}, evicted)
	assert.Equal(t, int64(120), c.Stats().SizeBytes)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryLimit(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	putIndex(t, store, "b.flat", 10)
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 150})

	c := New(flat.New(), store, Options{Resources: rc, Shards: 1})
	_, err := c.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(120), rc.MemoryUsage())

	// evict-and-retry admits b in place of a
	_, err = c.Acquire(context.Background(), Key{File: "b.flat", Segment: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(120), rc.MemoryUsage())
	assert.Equal(t, 1, c.Stats().Entries)

	small := New(flat.New(), store, Options{Resources: resource.NewController(resource.Config{MemoryLimitBytes: 100})})
	_, err = small.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

	tiny := New(flat.New(), store, Options{CapacityBytes: 10})
	_, err = tiny.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
}

func TestInvalidateAndClose(t *testing.T) {
	store := blobstore.NewMemoryStore()
	putIndex(t, store, "a.flat", 10)
	c := New(flat.New(), store, Options{})

	for seg := range 3 {
		_, err := c.Acquire(context.Background(), Key{File: "a.flat", Segment: model.SegmentID(seg)})
		require.NoError(t, err)
	}
	n := c.Invalidate(func(k Key) bool { return k.Segment == 1 })
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, c.Stats().Entries)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Stats().Entries)
	_, err := c.Acquire(context.Background(), Key{File: "a.flat", Segment: 1})
	assert.ErrorIs(t, err, ErrClosed)
}
