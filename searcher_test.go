package knnquery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/native/flat"
	"github.com/hupe1980/knnquery/native/nativetest"
	"github.com/hupe1980/knnquery/segment"
)

// lineLeaf builds a leaf where local doc i has vector [offset+i, offset+i]
// and stores its flat engine file.
func lineLeaf(t *testing.T, store *blobstore.MemoryStore, id model.SegmentID, docBase, n int, offset float32) *segment.Memory {
	t.Helper()
	docs := make([]model.DocID, n)
	vecs := make([][]float32, n)
	for i := range docs {
		docs[i] = model.DocID(i)
		vecs[i] = []float32{offset + float32(i), offset + float32(i)}
	}
	return newLeaf(t, store, id, docBase, n, docs, vecs)
}

func newLeaf(t *testing.T, store *blobstore.MemoryStore, id model.SegmentID, docBase, maxDoc int, docs []model.DocID, vecs [][]float32) *segment.Memory {
	t.Helper()
	name := "seg_" + string(rune('a'+int(id)))
	file := name + "_vec.flat"
	data, err := flat.EncodeFloat(distance.SpaceL2, docs, vecs)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), file, data))

	leaf := segment.NewMemory(id, name, docBase, maxDoc)
	fi := segment.FieldInfo{Name: "vec", Dimension: 2, Space: distance.SpaceL2, Engine: flat.EngineName}
	require.NoError(t, leaf.AddFloatField(fi, docs, vecs))
	require.NoError(t, leaf.SetEngineFiles("vec", file))
	return leaf
}

func newFlatSearcher(t *testing.T, store blobstore.BlobStore, optFns ...Option) *Searcher {
	t.Helper()
	cache := NewCache(flat.New(), store, CacheConfig{}, optFns...)
	t.Cleanup(func() { _ = cache.Close() })
	s, err := NewSearcher(nil, cache, nil, optFns...)
	require.NoError(t, err)
	return s
}

func f32(v float32) *float32 { return &v }

func TestNewSearcherRequiresCache(t *testing.T) {
	_, err := NewSearcher(flat.New(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSearchMergesLeavesWithDocBase(t *testing.T) {
	store := blobstore.NewMemoryStore()
	a := lineLeaf(t, store, 0, 0, 50, 0)
	b := lineLeaf(t, store, 1, 50, 50, 50)
	s := newFlatSearcher(t, store)

	top, err := s.Search(context.Background(), []segment.Leaf{a, b}, &Query{
		Field:  "vec",
		Vector: []float32{50, 50},
		K:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{50, 49, 51}, top.DocIDs())
	assert.InDelta(t, 1.0, top.Docs[0].Score, 1e-6)
	assert.Greater(t, top.Docs[0].Score, top.Docs[1].Score)
}

func TestSearchSerialAndPooledAgree(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaves := []segment.Leaf{
		lineLeaf(t, store, 0, 0, 40, 0),
		lineLeaf(t, store, 1, 40, 40, 40),
		lineLeaf(t, store, 2, 80, 40, 80),
	}
	q := &Query{Field: "vec", Vector: []float32{41.2, 41.2}, K: 7}

	pooled, err := newFlatSearcher(t, store, WithMaxConcurrency(3)).Search(context.Background(), leaves, q)
	require.NoError(t, err)
	serial, err := newFlatSearcher(t, store, WithExecutor(SerialExecutor{})).Search(context.Background(), leaves, q)
	require.NoError(t, err)
	assert.Equal(t, serial, pooled)
	assert.Equal(t, []model.DocID{41, 42, 40, 43, 39, 44, 38}, pooled.DocIDs())
}

func TestSearchRouting(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaf := lineLeaf(t, store, 0, 0, 100, 0)
	metrics := &BasicMetricsCollector{}
	s := newFlatSearcher(t, store, WithMetrics(metrics))
	ctx := context.Background()

	t.Run("unfiltered uses the native index", func(t *testing.T) {
		exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{20, 20}, K: 2})
		require.NoError(t, err)
		require.Len(t, exp.Leaves, 1)
		assert.Equal(t, model.SearchModeApproximate, exp.Leaves[0].Mode)
		assert.Zero(t, exp.Leaves[0].Cardinality)
		assert.Equal(t, []model.DocID{20, 19}, exp.Result.DocIDs())
	})

	t.Run("small filter is answered exactly", func(t *testing.T) {
		exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &Query{
			Field:  "vec",
			Vector: []float32{20, 20},
			K:      2,
			Filter: segment.DocsFilter{0: {3, 60, 70}},
		})
		require.NoError(t, err)
		assert.Equal(t, model.SearchModeExact, exp.Leaves[0].Mode)
		assert.Equal(t, 3, exp.Leaves[0].Cardinality)
		assert.Equal(t, []model.DocID{3, 60}, exp.Result.DocIDs())
	})

	t.Run("filter excluding everything", func(t *testing.T) {
		exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &Query{
			Field:  "vec",
			Vector: []float32{20, 20},
			K:      2,
			Filter: segment.DocsFilter{},
		})
		require.NoError(t, err)
		assert.Equal(t, model.SearchModeNone, exp.Leaves[0].Mode)
		assert.Zero(t, exp.Result.Len())
	})

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.ApproximateQueries)
	assert.Equal(t, int64(1), stats.ExactQueries)
	assert.Equal(t, int64(1), stats.GraphQueries)
	assert.Equal(t, int64(1), stats.CacheLoads)
	assert.Zero(t, stats.QueryErrors)
}

func TestSearchLeafWithoutEngineFilesFallsBack(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaf := segment.NewMemory(0, "seg_a", 0, 10)
	docs := []model.DocID{0, 1, 2, 3}
	vecs := [][]float32{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	require.NoError(t, leaf.AddFloatField(segment.FieldInfo{Name: "vec", Dimension: 2, Space: distance.SpaceL2}, docs, vecs))
	s := newFlatSearcher(t, store)

	exp, err := s.Explain(context.Background(), []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{3, 3}, K: 2})
	require.NoError(t, err)
	assert.True(t, exp.Leaves[0].MissingEngineFiles)
	assert.Equal(t, model.SearchModeExact, exp.Leaves[0].Mode)
	assert.Equal(t, []model.DocID{3, 2}, exp.Result.DocIDs())
}

func TestSearchSkipsDeletedDocs(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaf := lineLeaf(t, store, 0, 0, 100, 0)
	leaf.Delete(50)
	s := newFlatSearcher(t, store)

	top, err := s.Search(context.Background(), []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{50, 50}, K: 3})
	require.NoError(t, err)
	assert.NotContains(t, top.DocIDs(), model.DocID(50))
	assert.Equal(t, []model.DocID{49, 51}, top.DocIDs()[:2])
}

func TestSearchRadius(t *testing.T) {
	store := blobstore.NewMemoryStore()
	a := lineLeaf(t, store, 0, 0, 50, 0)
	b := lineLeaf(t, store, 1, 50, 50, 50)
	s := newFlatSearcher(t, store)
	ctx := context.Background()

	t.Run("max distance", func(t *testing.T) {
		top, err := s.Search(ctx, []segment.Leaf{a, b}, &Query{
			Field:       "vec",
			Vector:      []float32{50, 50},
			MaxDistance: f32(2.5),
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{50, 49, 51}, top.DocIDs())
	})

	t.Run("min score", func(t *testing.T) {
		top, err := s.Search(ctx, []segment.Leaf{a, b}, &Query{
			Field:    "vec",
			Vector:   []float32{50, 50},
			MinScore: f32(0.99),
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{50}, top.DocIDs())
	})

	t.Run("filtered radius uses the native index", func(t *testing.T) {
		exp, err := s.Explain(ctx, []segment.Leaf{a, b}, &Query{
			Field:       "vec",
			Vector:      []float32{50, 50},
			MaxDistance: f32(2.5),
			Filter:      segment.DocsFilter{0: {49}, 1: {1, 2}},
		})
		require.NoError(t, err)
		for _, l := range exp.Leaves {
			assert.Equal(t, model.SearchModeApproximate, l.Mode)
		}
		assert.Equal(t, []model.DocID{49, 51}, exp.Result.DocIDs())
	})
}

// mockSearcher wires a mock engine whose index answers every k-NN search
// with results.
func mockSearcher(t *testing.T, results []native.Result, searchErr error, optFns ...Option) (*Searcher, *nativetest.MockIndex, *blobstore.MemoryStore) {
	t.Helper()
	idx := new(nativetest.MockIndex)
	idx.On("SizeBytes").Return(int64(64)).Maybe()
	idx.On("Close").Return(nil).Maybe()
	idx.On("Search", mock.Anything, mock.Anything).Return(results, searchErr).Maybe()

	engine := new(nativetest.MockEngine)
	engine.On("Load", mock.Anything, mock.Anything).Return(idx, nil).Maybe()
	engine.On("SupportsRadius").Return(false).Maybe()

	store := blobstore.NewMemoryStore()
	cache := NewCache(engine, store, CacheConfig{})
	t.Cleanup(func() { _ = cache.Close() })
	s, err := NewSearcher(engine, cache, nil, optFns...)
	require.NoError(t, err)
	return s, idx, store
}

func TestSearchRescore(t *testing.T) {
	// the engine ranks far documents first
	s, idx, store := mockSearcher(t, nativetest.Results(1, 0.0, 2, 0.1, 50, 0.2), nil)
	leaf := lineLeaf(t, store, 0, 0, 100, 0)
	ctx := context.Background()

	top, err := s.Search(ctx, []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{50, 50}, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{1, 2}, top.DocIDs())

	exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &Query{
		Field:   "vec",
		Vector:  []float32{50, 50},
		K:       2,
		Rescore: &RescoreContext{OversampleFactor: 2},
	})
	require.NoError(t, err)
	assert.True(t, exp.Rescored)
	assert.Equal(t, MinFirstPassResults, exp.FirstPassK)
	assert.Equal(t, []model.DocID{50, 2}, exp.Result.DocIDs())
	assert.InDelta(t, 1.0, exp.Result.Docs[0].Score, 1e-6)

	idx.AssertCalled(t, "Search", mock.Anything, mock.MatchedBy(func(req *native.Request) bool {
		return req.K == MinFirstPassResults
	}))
}

func TestSearchRescoreShardLevelDisabled(t *testing.T) {
	s, _, store := mockSearcher(t, nativetest.Results(1, 0.0, 2, 0.1, 50, 0.2), nil, WithShardLevelRescoringDisabled(true))
	leaf := lineLeaf(t, store, 0, 0, 100, 0)

	top, err := s.Search(context.Background(), []segment.Leaf{leaf}, &Query{
		Field:   "vec",
		Vector:  []float32{50, 50},
		K:       1,
		Rescore: &RescoreContext{},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{50}, top.DocIDs())
}

func TestSearchNativeErrorCarriesContext(t *testing.T) {
	boom := errors.New("boom")
	s, _, store := mockSearcher(t, nil, boom)
	leaf := lineLeaf(t, store, 0, 0, 10, 0)

	_, err := s.Search(context.Background(), []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{1, 1}, K: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "vec", se.Field)
	assert.Equal(t, "seg_a", se.Segment)
	assert.Equal(t, "ann", se.Op)
}

func TestSearchRadiusUnsupported(t *testing.T) {
	s, _, store := mockSearcher(t, nil, nil)
	leaf := lineLeaf(t, store, 0, 0, 10, 0)

	_, err := s.Search(context.Background(), []segment.Leaf{leaf}, &Query{Field: "vec", Vector: []float32{1, 1}, MaxDistance: f32(1)})
	assert.ErrorIs(t, err, ErrUnsupported)
}

// nestedLeaf has parents {3, 7}: children 0-2, 4-6 and the orphans 8-9.
func nestedLeaf(t *testing.T, store *blobstore.MemoryStore) *segment.Memory {
	t.Helper()
	docs := []model.DocID{0, 1, 2, 4, 5, 6, 8, 9}
	vecs := make([][]float32, len(docs))
	for i, d := range docs {
		vecs[i] = []float32{float32(d), float32(d)}
	}
	return newLeaf(t, store, 0, 0, 10, docs, vecs)
}

func TestSearchNested(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaf := nestedLeaf(t, store)
	s := newFlatSearcher(t, store)
	parents := segment.ParentDocs{0: {3, 7}}
	ctx := context.Background()

	t.Run("one child per parent", func(t *testing.T) {
		top, err := s.Search(ctx, []segment.Leaf{leaf}, &Query{
			Field:   "vec",
			Vector:  []float32{5, 5},
			K:       2,
			Parents: parents,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{5, 2}, top.DocIDs())
	})

	t.Run("expand nested", func(t *testing.T) {
		exp, err := s.Explain(ctx, []segment.Leaf{leaf}, &Query{
			Field:        "vec",
			Vector:       []float32{5, 5},
			K:            1,
			Parents:      parents,
			ExpandNested: true,
		})
		require.NoError(t, err)
		assert.True(t, exp.Expanded)
		assert.Equal(t, []model.DocID{5, 4, 6}, exp.Result.DocIDs())
	})

	t.Run("expand nested respects the filter", func(t *testing.T) {
		top, err := s.Search(ctx, []segment.Leaf{leaf}, &Query{
			Field:        "vec",
			Vector:       []float32{5, 5},
			K:            1,
			Parents:      parents,
			Filter:       segment.DocsFilter{0: {0, 1, 4, 5}},
			ExpandNested: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{5, 4}, top.DocIDs())
	})
}

func TestSiblings(t *testing.T) {
	parents := segment.NewBitSet(10, 3, 7)
	docs := []model.ScoredDoc{{Doc: 5}, {Doc: 9}, {Doc: 4}}

	all := siblings(docs, parents, nil, nil, 10)
	assert.Equal(t, 5, all.Cardinality())
	for _, d := range []int{4, 5, 6, 8, 9} {
		assert.True(t, all.Get(d), "doc %d", d)
	}

	live := segment.NewBitSet(10, 0, 1, 2, 4, 6, 8, 9)
	filtered := siblings(docs, parents, nil, live, 10)
	assert.False(t, filtered.Get(5))
	assert.Equal(t, 4, filtered.Cardinality())
}

func TestRescoreAPI(t *testing.T) {
	store := blobstore.NewMemoryStore()
	a := lineLeaf(t, store, 0, 0, 50, 0)
	b := lineLeaf(t, store, 1, 50, 50, 50)
	s := newFlatSearcher(t, store)
	ctx := context.Background()

	inner := segment.DocsFilter{0: {10, 40, 48}, 1: {5, 30}}
	top, err := s.Rescore(ctx, []segment.Leaf{a, b}, inner, &Query{Field: "vec", Vector: []float32{50, 50}, K: 3})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{48, 55, 40}, top.DocIDs())

	_, err = s.Rescore(ctx, []segment.Leaf{a, b}, nil, &Query{Field: "vec", Vector: []float32{50, 50}, K: 3})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Rescore(ctx, []segment.Leaf{a, b}, inner, &Query{Field: "vec", Vector: []float32{50, 50}, MaxDistance: f32(1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSearchValidation(t *testing.T) {
	store := blobstore.NewMemoryStore()
	leaf := lineLeaf(t, store, 0, 0, 10, 0)
	s := newFlatSearcher(t, store)
	ctx := context.Background()
	leaves := []segment.Leaf{leaf}

	_, err := s.Search(ctx, leaves, &Query{Field: "vec", Vector: []float32{1, 1}})
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = s.Search(ctx, leaves, &Query{Field: "vec", Vector: []float32{1, 1, 1}, K: 1})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	top, err := s.Search(ctx, leaves, &Query{Field: "missing", Vector: []float32{1, 1}, K: 1})
	require.NoError(t, err)
	assert.Zero(t, top.Len())

	top, err = s.Search(ctx, nil, &Query{Field: "vec", Vector: []float32{1, 1}, K: 1})
	require.NoError(t, err)
	assert.Zero(t, top.Len())
}
