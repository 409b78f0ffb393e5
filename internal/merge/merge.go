// Package merge combines per-leaf results into a global top-k.
package merge

import (
	"github.com/hupe1980/knnquery/internal/queue"
	"github.com/hupe1980/knnquery/model"
)

// ReduceToTopK trims results in place so that, across all leaves, only
// documents scoring at least the k-th best score remain. Documents tied with
// the k-th score are kept, so more than k documents may survive.
// When the total does not exceed k the results are left unchanged.
func ReduceToTopK(results []model.TopDocs, k int) {
	total := 0
	for _, r := range results {
		total += len(r.Docs)
	}
	if total <= k {
		return
	}
	if k <= 0 {
		for i := range results {
			results[i] = model.TopDocs{}
		}
		return
	}

	h := queue.New(k, func(a, b float32) bool { return a < b })
	for _, r := range results {
		for _, d := range r.Docs {
			if h.Len() < k {
				h.Push(d.Score)
			} else if top, _ := h.Top(); d.Score > top {
				h.UpdateTop(d.Score)
			}
		}
	}
	kth, _ := h.Top()

	for i, r := range results {
		kept := make([]model.ScoredDoc, 0, len(r.Docs))
		for _, d := range r.Docs {
			if d.Score >= kth {
				kept = append(kept, d)
			}
		}
		results[i] = model.TopDocs{TotalHits: len(kept), Docs: kept}
	}
}

type cursor struct {
	shard int
	pos   int
	doc   model.ScoredDoc
}

// MergeTopDocs merges shards, each ordered best first with doc ids already
// offset by their doc base, into the k best documents. Ties are broken by
// shard index, then doc id. TotalHits sums the inputs.
func MergeTopDocs(k int, shards ...model.TopDocs) model.TopDocs {
	total := 0
	for _, s := range shards {
		total += s.TotalHits
	}
	if k <= 0 {
		return model.TopDocs{TotalHits: total}
	}

	h := queue.New(len(shards), func(a, b cursor) bool {
		if a.doc.Score != b.doc.Score {
			return a.doc.Score > b.doc.Score
		}
		if a.shard != b.shard {
			return a.shard < b.shard
		}
		return a.doc.Doc < b.doc.Doc
	})
	for i, s := range shards {
		if len(s.Docs) > 0 {
			h.Push(cursor{shard: i, doc: s.Docs[0]})
		}
	}

	out := make([]model.ScoredDoc, 0, min(k, total))
	for len(out) < k {
		c, ok := h.Pop()
		if !ok {
			break
		}
		out = append(out, c.doc)
		if next := c.pos + 1; next < len(shards[c.shard].Docs) {
			h.Push(cursor{shard: c.shard, pos: next, doc: shards[c.shard].Docs[next]})
		}
	}
	return model.TopDocs{TotalHits: total, Docs: out}
}
