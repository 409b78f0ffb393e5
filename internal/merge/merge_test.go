package merge

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/knnquery/model"
)

func td(docs ...model.ScoredDoc) model.TopDocs {
	return model.TopDocs{TotalHits: len(docs), Docs: docs}
}

func sd(doc int, score float32) model.ScoredDoc {
	return model.ScoredDoc{Doc: model.DocID(doc), Score: score}
}

func TestReduceToTopK(t *testing.T) {
	results := []model.TopDocs{
		td(sd(1, 0.9), sd(2, 0.5), sd(3, 0.1)),
		td(sd(1, 0.8), sd(7, 0.4)),
		td(),
	}
	ReduceToTopK(results, 3)
	assert.Equal(t, td(sd(1, 0.9), sd(2, 0.5)), results[0])
	assert.Equal(t, td(sd(1, 0.8)), results[1])
	assert.Empty(t, results[2].Docs)

	t.Run("under k unchanged", func(t *testing.T) {
		in := []model.TopDocs{td(sd(1, 0.1)), td(sd(2, 0.2))}
		ReduceToTopK(in, 5)
		assert.Equal(t, []model.TopDocs{td(sd(1, 0.1)), td(sd(2, 0.2))}, in)
	})

	t.Run("ties at kth kept", func(t *testing.T) {
		in := []model.TopDocs{td(sd(1, 0.5), sd(2, 0.5)), td(sd(3, 0.5), sd(4, 0.1))}
		ReduceToTopK(in, 2)
		assert.Len(t, in[0].Docs, 2)
		assert.Len(t, in[1].Docs, 1)
	})
}

func TestMergeTopDocs(t *testing.T) {
	a := td(sd(0, 0.9), sd(4, 0.5))
	b := td(sd(10, 0.9), sd(11, 0.7))
	got := MergeTopDocs(3, a, b)
	assert.Equal(t, 4, got.TotalHits)
	assert.Equal(t, []model.ScoredDoc{sd(0, 0.9), sd(10, 0.9), sd(11, 0.7)}, got.Docs)

	assert.Empty(t, MergeTopDocs(3).Docs)
	assert.Empty(t, MergeTopDocs(0, a).Docs)
}

func TestMergeKeepsGlobalTopK(t *testing.T) {
	properties := gopter.NewProperties(nil)

	leafGen := gen.SliceOf(gen.Float32Range(0, 1))
	properties.Property("merge equals sorted union", prop.ForAll(
		func(leaves [][]float32, k int) bool {
			shards := make([]model.TopDocs, len(leaves))
			var all []model.ScoredDoc
			base := 0
			for i, scores := range leaves {
				docs := make([]model.ScoredDoc, len(scores))
				for j, s := range scores {
					docs[j] = sd(base+j, s)
				}
				sort.Slice(docs, func(x, y int) bool { return model.Better(docs[x], docs[y]) })
				shards[i] = td(docs...)
				all = append(all, docs...)
				base += len(scores)
			}
			sort.Slice(all, func(x, y int) bool { return model.Better(all[x], all[y]) })
			want := all[:min(k, len(all))]

			got := MergeTopDocs(k, shards...)
			if len(got.Docs) != len(want) {
				return false
			}
			for i := range want {
				// equal scores may come from different shards, compare scores only
				if got.Docs[i].Score != want[i].Score {
					return false
				}
			}
			return true
		},
		gen.SliceOf(leafGen),
		gen.IntRange(1, 20),
	))

	properties.Property("reduce keeps every doc at or above the kth score", prop.ForAll(
		func(leaves [][]float32, k int) bool {
			shards := make([]model.TopDocs, len(leaves))
			var scores []float32
			for i, ls := range leaves {
				docs := make([]model.ScoredDoc, len(ls))
				for j, s := range ls {
					docs[j] = sd(j, s)
				}
				shards[i] = td(docs...)
				scores = append(scores, ls...)
			}
			ReduceToTopK(shards, k)

			kept := 0
			for _, s := range shards {
				kept += len(s.Docs)
			}
			if len(scores) <= k {
				return kept == len(scores)
			}
			sort.Slice(scores, func(i, j int) bool { return scores[i] > scores[j] })
			kth := scores[k-1]
			want := 0
			for _, s := range scores {
				if s >= kth {
					want++
				}
			}
			return kept == want
		},
		gen.SliceOf(leafGen),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
