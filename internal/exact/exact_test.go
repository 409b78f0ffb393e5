package exact

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
	"github.com/hupe1980/knnquery/segment"
)

// lineLeaf holds n docs where doc i has vector [i, i].
func lineLeaf(t *testing.T, n int) *segment.Memory {
	t.Helper()
	m := segment.NewMemory(1, "seg_1", 0, n)
	docs := make([]model.DocID, n)
	vecs := make([][]float32, n)
	for i := range docs {
		docs[i] = model.DocID(i)
		vecs[i] = []float32{float32(i), float32(i)}
	}
	info := segment.FieldInfo{Name: "vec", Dimension: 2, Space: distance.SpaceL2}
	require.NoError(t, m.AddFloatField(info, docs, vecs))
	return m
}

func matched(maxDoc int, docs ...int) bitmap.Bitset {
	f := bitmap.NewFixed(maxDoc)
	for _, d := range docs {
		f.Set(d)
	}
	return f
}

func TestSearchTopK(t *testing.T) {
	leaf := lineLeaf(t, 100)
	s := New(Options{})

	top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: []float32{50, 50}, K: 5})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{50, 49, 51, 48, 52}, top.DocIDs())
	assert.Equal(t, float32(1), top.Docs[0].Score)
	assert.Equal(t, 5, top.TotalHits)
}

func TestSearchFewerCandidatesThanK(t *testing.T) {
	leaf := lineLeaf(t, 100)
	s := New(Options{})

	t.Run("score all", func(t *testing.T) {
		top, err := s.Search(context.Background(), leaf, &Context{
			Field: "vec", FloatQuery: []float32{0, 0}, K: 10,
			Matched: matched(100, 7, 3, 90), NumMatched: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{3, 7, 90}, top.DocIDs())
	})

	t.Run("heap without sentinel leakage", func(t *testing.T) {
		// NumMatched overstates the candidates so the heap path runs
		top, err := s.Search(context.Background(), leaf, &Context{
			Field: "vec", FloatQuery: []float32{0, 0}, K: 10,
			Matched: matched(100, 7, 3, 90), NumMatched: 50,
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{3, 7, 90}, top.DocIDs())
		for _, d := range top.Docs {
			assert.NotEqual(t, model.NoMoreDocs, d.Doc)
		}
	})
}

func TestSearchRadius(t *testing.T) {
	leaf := lineLeaf(t, 100)
	s := New(Options{})
	radius := float32(8)

	top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: []float32{10, 10}, Radius: &radius})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{10, 9, 11, 8, 12}, top.DocIDs())

	top, err = s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: []float32{10, 10}, Radius: &radius, MaxResultWindow: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{10, 9}, top.DocIDs())
}

func TestSearchByteField(t *testing.T) {
	m := segment.NewMemory(1, "seg_1", 0, 3)
	info := segment.FieldInfo{Name: "b", Dimension: 2, DataType: model.VectorDataTypeByte, Space: distance.SpaceL2}
	require.NoError(t, m.AddByteField(info, []model.DocID{0, 1, 2}, [][]byte{{0, 0}, {0xfe, 0xfe}, {3, 3}}))

	top, err := New(Options{}).Search(context.Background(), m, &Context{Field: "b", FloatQuery: []float32{-2, -2}, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{1, 0}, top.DocIDs())
	assert.Equal(t, float32(1), top.Docs[0].Score)
}

func TestSearchBinaryField(t *testing.T) {
	m := segment.NewMemory(1, "seg_1", 0, 3)
	info := segment.FieldInfo{Name: "bits", Dimension: 8, DataType: model.VectorDataTypeBinary, Space: distance.SpaceHamming}
	require.NoError(t, m.AddByteField(info, []model.DocID{0, 1, 2}, [][]byte{{0x00}, {0xf0}, {0xff}}))

	top, err := New(Options{}).Search(context.Background(), m, &Context{Field: "bits", ByteQuery: []byte{0xf1}, K: 3})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{1, 2, 0}, top.DocIDs())
	assert.Equal(t, float32(0.5), top.Docs[0].Score)

	_, err = New(Options{}).Search(context.Background(), m, &Context{Field: "bits", ByteQuery: []byte{1, 2}, K: 3})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func quantizedLeaf(t *testing.T) (*segment.Memory, *quantization.SegmentContext) {
	t.Helper()
	m := segment.NewMemory(3, "seg_3", 0, 3)
	info := segment.FieldInfo{Name: "vec", Dimension: 4, Space: distance.SpaceL2}
	vecs := [][]float32{{1, 1, -1, -1}, {-1, -1, 1, 1}, {1, -1, 1, -1}}
	require.NoError(t, m.AddFloatField(info, []model.DocID{0, 1, 2}, vecs))

	sc := &quantization.SegmentContext{Segment: 3, Field: "vec", Space: distance.SpaceL2, State: quantization.NewOneBitState([]float32{0, 0, 0, 0})}
	codes := make([][]byte, len(vecs))
	for i, v := range vecs {
		codes[i] = quantization.Quantize(v, sc)
	}
	require.NoError(t, m.SetQuantizedVectors("vec", codes))
	return m, sc
}

func TestSearchQuantized(t *testing.T) {
	leaf, sc := quantizedLeaf(t)
	s := New(Options{})
	q := []float32{0.9, 0.8, -0.7, -0.6}

	t.Run("hamming", func(t *testing.T) {
		top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: q, K: 3, UseQuantizedVectors: true, Quantization: sc})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{0, 2, 1}, top.DocIDs())
		assert.Equal(t, float32(1), top.Docs[0].Score)
	})

	t.Run("adc", func(t *testing.T) {
		adc := *sc
		adc.State = quantization.NewOneBitState([]float32{0, 0, 0, 0}).WithADC([]float32{-1, -1, -1, -1}, []float32{1, 1, 1, 1})
		top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: q, K: 1, UseQuantizedVectors: true, Quantization: &adc})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{0}, top.DocIDs())
	})

	t.Run("full precision when not requested", func(t *testing.T) {
		top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: q, K: 1, Quantization: sc})
		require.NoError(t, err)
		assert.Equal(t, []model.DocID{0}, top.DocIDs())
		assert.Less(t, top.Docs[0].Score, float32(1))
	})
}

func nestedLeaf(t *testing.T) (*segment.Memory, segment.BitSet) {
	t.Helper()
	// parents 3 and 7, children 0..2 and 4..6, doc 8 orphaned
	m := segment.NewMemory(1, "seg_1", 0, 10)
	docs := []model.DocID{0, 1, 2, 4, 5, 6, 8}
	vecs := [][]float32{{5}, {1}, {3}, {2}, {9}, {0.5}, {0}}
	require.NoError(t, m.AddFloatField(segment.FieldInfo{Name: "vec", Dimension: 1, Space: distance.SpaceL2}, docs, vecs))
	return m, segment.NewBitSet(10, 3, 7)
}

func TestSearchNested(t *testing.T) {
	leaf, parents := nestedLeaf(t)
	s := New(Options{})

	top, err := s.Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: []float32{0}, K: 2, Parents: parents})
	require.NoError(t, err)
	// doc 8 has no parent and forms its own group
	assert.Equal(t, []model.DocID{8, 6}, top.DocIDs())

	top, err = s.Search(context.Background(), leaf, &Context{
		Field: "vec", FloatQuery: []float32{0}, K: 5, Parents: parents,
		Matched: matched(10, 0, 2, 5), NumMatched: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{2, 5}, top.DocIDs())
}

func TestNestedIterator(t *testing.T) {
	leaf, parents := nestedLeaf(t)
	values, err := leaf.FloatVectors("vec")
	require.NoError(t, err)
	score, err := floatScorer(values, []float32{0}, distance.SpaceL2)
	require.NoError(t, err)

	it := newIterator(values.Iterator(), parents, score)
	var got []model.DocID
	for d := it.Next(); d != model.NoMoreDocs; d = it.Next() {
		got = append(got, d)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []model.DocID{1, 6, 8}, got)
}

func TestSearchPartitioned(t *testing.T) {
	leaf := lineLeaf(t, 1000)
	serial := New(Options{})
	parallel := New(Options{MaxPartitions: 4, MinDocsPerPartition: 100})
	assert.Equal(t, 4, parallel.numPartitions(1000))
	assert.Equal(t, 1, serial.numPartitions(1000))

	ec := &Context{Field: "vec", FloatQuery: []float32{333, 333}, K: 7}
	want, err := serial.Search(context.Background(), leaf, ec)
	require.NoError(t, err)
	got, err := parallel.Search(context.Background(), leaf, ec)
	require.NoError(t, err)
	assert.Equal(t, want.Docs, got.Docs)

	// the range [0, 250) ends at doc 249, parent 260 extends it
	parents := segment.NewBitSet(1000, 260, 600)
	assert.Equal(t, 261, partitionEnd(parents, 250, 1000))
	assert.Equal(t, 1000, partitionEnd(parents, 700, 1000))
	assert.Equal(t, 250, partitionEnd(nil, 250, 1000))
}

func TestSearchMissingField(t *testing.T) {
	leaf := lineLeaf(t, 10)
	top, err := New(Options{}).Search(context.Background(), leaf, &Context{Field: "other", FloatQuery: []float32{1, 1}, K: 3})
	require.NoError(t, err)
	assert.Empty(t, top.Docs)

	_, err = New(Options{}).Search(context.Background(), leaf, &Context{Field: "vec", FloatQuery: []float32{1}, K: 3})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSearchMatchesOracle(t *testing.T) {
	const n, dim = 200, 4
	r := rand.New(rand.NewSource(7))
	m := segment.NewMemory(1, "seg_1", 0, n)
	docs := make([]model.DocID, n)
	vecs := make([][]float32, n)
	for i := range docs {
		docs[i] = model.DocID(i)
		vecs[i] = make([]float32, dim)
		for j := range vecs[i] {
			vecs[i][j] = r.Float32()*2 - 1
		}
	}
	require.NoError(t, m.AddFloatField(segment.FieldInfo{Name: "vec", Dimension: dim, Space: distance.SpaceInnerProduct}, docs, vecs))

	properties := gopter.NewProperties(nil)
	properties.Property("exact top-k equals brute force", prop.ForAll(
		func(q []float32, k int, filterSeed int64, partitions int) bool {
			fr := rand.New(rand.NewSource(filterSeed))
			f := bitmap.NewFixed(n)
			for i := 0; i < n; i++ {
				if fr.Intn(3) == 0 {
					f.Set(i)
				}
			}

			var oracle []model.ScoredDoc
			for i := 0; i < n; i++ {
				if f.Get(i) {
					s := distance.SpaceInnerProduct.Score(distance.NegatedDot(q, vecs[i]))
					oracle = append(oracle, model.ScoredDoc{Doc: model.DocID(i), Score: s})
				}
			}
			sort.Slice(oracle, func(i, j int) bool { return model.Better(oracle[i], oracle[j]) })
			oracle = oracle[:min(k, len(oracle))]

			s := New(Options{MaxPartitions: partitions, MinDocsPerPartition: 16})
			top, err := s.Search(context.Background(), m, &Context{
				Field: "vec", FloatQuery: q, K: k, Matched: f, NumMatched: f.Cardinality(),
			})
			if err != nil || len(top.Docs) != len(oracle) {
				return false
			}
			for i := range oracle {
				if top.Docs[i] != oracle[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(dim, gen.Float32Range(-1, 1)),
		gen.IntRange(1, 120),
		gen.Int64(),
		gen.IntRange(1, 8),
	))
	properties.TestingRun(t)
}
