package knnquery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/knnquery/internal/ann"
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/internal/exact"
	"github.com/hupe1980/knnquery/internal/merge"
	"github.com/hupe1980/knnquery/internal/weight"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/quantization"
	"github.com/hupe1980/knnquery/segment"
)

// Searcher executes k-NN and radius queries over the leaves of a shard.
// It is safe for concurrent use.
type Searcher struct {
	engine  native.Engine
	invoker *ann.Invoker
	weight  *weight.Weight
	opts    options
}

// NewSearcher creates a Searcher. A nil engine uses the cache's engine;
// states may be nil when no field is quantized.
func NewSearcher(engine native.Engine, cache *Cache, states quantization.StateStore, optFns ...Option) (*Searcher, error) {
	if cache == nil {
		return nil, fmt.Errorf("%w: native cache is required", ErrInvalidArgument)
	}
	if engine == nil {
		engine = cache.Engine()
	}
	o := applyOptions(optFns)

	invoker := ann.New(ann.FromCache(cache), ann.Options{
		Logger:   o.logger.Logger,
		OnSearch: o.metricsCollector.RecordGraphQuery,
	})
	searcher := exact.New(exact.Options{
		MaxPartitions:       o.exactSearchPartitions,
		MinDocsPerPartition: o.minDocsPerPartition,
		Logger:              o.logger.Logger,
	})
	w := weight.New(engine, invoker, searcher, states, weight.Options{
		BatchThreshold:               o.batchThreshold,
		MaxDistanceComputations:      o.maxDistanceComputations,
		FilteredExactSearchThreshold: o.filteredExactSearchThreshold,
		Logger:                       o.logger.Logger,
	})
	return &Searcher{engine: engine, invoker: invoker, weight: w, opts: o}, nil
}

// GraphStats returns the native search request and error counts.
func (s *Searcher) GraphStats() ann.Stats {
	return s.invoker.Stats()
}

// LeafExplanation describes how one leaf was answered.
type LeafExplanation struct {
	Segment            string
	Mode               model.SearchMode
	Cardinality        int
	MissingEngineFiles bool
	Hits               int
}

// Explanation describes how a query was executed.
type Explanation struct {
	Leaves     []LeafExplanation
	FirstPassK int
	Rescored   bool
	Expanded   bool
	Result     model.TopDocs
}

func (e *Explanation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "first pass k %d, rescored %t, expanded %t, %d hits\n", e.FirstPassK, e.Rescored, e.Expanded, e.Result.Len())
	for _, l := range e.Leaves {
		fmt.Fprintf(&b, "  %s: %s, cardinality %d, %d hits", l.Segment, l.Mode, l.Cardinality, l.Hits)
		if l.MissingEngineFiles {
			b.WriteString(", no engine files")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Search runs q over leaves and returns the merged results with doc ids
// offset by each leaf's doc base.
func (s *Searcher) Search(ctx context.Context, leaves []segment.Leaf, q *Query) (model.TopDocs, error) {
	top, err := s.search(ctx, leaves, q, nil)
	s.opts.logger.LogSearch(ctx, q.Field, q.K, top.Len(), err)
	return top, translateError(err)
}

// Explain runs q like Search and reports how every leaf was answered.
func (s *Searcher) Explain(ctx context.Context, leaves []segment.Leaf, q *Query) (*Explanation, error) {
	exp := &Explanation{}
	top, err := s.search(ctx, leaves, q, exp)
	if err != nil {
		return nil, translateError(err)
	}
	exp.Result = top
	return exp, nil
}

// leafState is the per-leaf state of one query.
type leafState struct {
	leaf    segment.Leaf
	result  weight.PerLeafResult
	parents segment.BitSet
}

func (s *Searcher) search(ctx context.Context, leaves []segment.Leaf, q *Query, exp *Explanation) (model.TopDocs, error) {
	fi, found, err := q.validate(leaves)
	if err != nil || !found {
		return model.EmptyTopDocs(), err
	}
	radius, err := q.radius(fi)
	if err != nil {
		return model.EmptyTopDocs(), err
	}

	finalK := q.K
	firstPassK := finalK
	if q.Rescore != nil {
		firstPassK = q.Rescore.FirstPassK(finalK, fi.Dimension)
	}

	wctx := &weight.Context{
		Field:           q.Field,
		FloatQuery:      q.Vector,
		ByteQuery:       q.BinaryVector,
		K:               firstPassK,
		Radius:          radius,
		Filter:          q.Filter,
		Parents:         q.Parents,
		MethodParams:    q.MethodParams,
		MaxResultWindow: q.MaxResultWindow,
	}
	states := make([]leafState, len(leaves))
	err = s.forEachLeaf(ctx, leaves, func(ctx context.Context, i int, leaf segment.Leaf) error {
		start := time.Now()
		res, err := s.weight.Search(ctx, leaf, wctx)
		s.opts.metricsCollector.RecordQuery(res.Mode, time.Since(start), err)
		if err != nil {
			return err
		}
		s.opts.logger.LogRouting(ctx, leaf.Name(), res.Mode, res.Cardinality, res.Result.Len())
		states[i] = leafState{leaf: leaf, result: res}
		return nil
	})
	if err != nil {
		return model.EmptyTopDocs(), err
	}

	tops := make([]model.TopDocs, len(states))
	for i := range states {
		tops[i] = states[i].result.Result
	}
	if exp != nil {
		exp.FirstPassK = firstPassK
		for _, st := range states {
			exp.Leaves = append(exp.Leaves, LeafExplanation{
				Segment:            st.leaf.Name(),
				Mode:               st.result.Mode,
				Cardinality:        st.result.Cardinality,
				MissingEngineFiles: st.result.MissingEngineFiles,
				Hits:               st.result.Result.Len(),
			})
		}
	}

	if q.Parents != nil && (q.Rescore != nil || q.ExpandNested) {
		for i := range states {
			if states[i].parents, err = q.Parents.Parents(states[i].leaf); err != nil {
				return model.EmptyTopDocs(), err
			}
		}
	}

	if q.Rescore != nil {
		if !s.opts.shardLevelRescoringDisabled {
			merge.ReduceToTopK(tops, firstPassK)
		}
		if err := s.rescoreLeaves(ctx, states, tops, q, firstPassK, finalK); err != nil {
			return model.EmptyTopDocs(), err
		}
		if exp != nil {
			exp.Rescored = true
		}
	}
	if radius == nil {
		merge.ReduceToTopK(tops, finalK)
	}

	limit := finalK
	if q.ExpandNested {
		if err := s.expandNested(ctx, states, tops, q); err != nil {
			return model.EmptyTopDocs(), err
		}
		if exp != nil {
			exp.Expanded = true
		}
	}
	if q.ExpandNested || radius != nil {
		limit = resultCount(tops)
	}

	for i := range tops {
		tops[i] = tops[i].Offset(states[i].leaf.DocBase())
	}
	return merge.MergeTopDocs(limit, tops...), nil
}

// rescoreLeaves replaces every leaf result with a full precision exact
// search over the leaf's first pass documents.
func (s *Searcher) rescoreLeaves(ctx context.Context, states []leafState, tops []model.TopDocs, q *Query, firstPassK, k int) error {
	err := s.forEachState(ctx, states, func(ctx context.Context, i int, st *leafState) error {
		if tops[i].Len() == 0 {
			return nil
		}
		maxDoc := st.leaf.MaxDoc()
		var matched bitmap.Bitset
		if st.parents != nil {
			matched = siblings(tops[i].Docs, st.parents, st.result.FilterBits, st.leaf.LiveDocs(), maxDoc)
		} else {
			matched = docSet(tops[i].Docs, maxDoc)
		}
		top, err := s.weight.ExactSearch(ctx, st.leaf, &exact.Context{
			Field:           q.Field,
			FloatQuery:      q.Vector,
			ByteQuery:       q.BinaryVector,
			K:               k,
			Matched:         matched,
			NumMatched:      matched.Cardinality(),
			Parents:         st.parents,
			MaxResultWindow: q.MaxResultWindow,
		})
		if err != nil {
			return err
		}
		tops[i] = top
		return nil
	})
	if err == nil {
		s.opts.logger.LogRescore(ctx, firstPassK, k, resultCount(tops))
	}
	return err
}

// expandNested replaces every leaf result with all siblings of its matched
// children, restricted to the filter.
func (s *Searcher) expandNested(ctx context.Context, states []leafState, tops []model.TopDocs, q *Query) error {
	return s.forEachState(ctx, states, func(ctx context.Context, i int, st *leafState) error {
		if tops[i].Len() == 0 || st.parents == nil {
			return nil
		}
		all := siblings(tops[i].Docs, st.parents, st.result.FilterBits, st.leaf.LiveDocs(), st.leaf.MaxDoc())
		n := all.Cardinality()
		top, err := s.weight.ExactSearch(ctx, st.leaf, &exact.Context{
			Field:               q.Field,
			FloatQuery:          q.Vector,
			ByteQuery:           q.BinaryVector,
			K:                   n,
			Matched:             all,
			NumMatched:          n,
			UseQuantizedVectors: q.Rescore == nil,
			MaxResultWindow:     q.MaxResultWindow,
		})
		if err != nil {
			return err
		}
		tops[i] = top
		return nil
	})
}

// Rescore scores the documents matched by inner in every leaf at full
// precision and returns the global top q.K.
func (s *Searcher) Rescore(ctx context.Context, leaves []segment.Leaf, inner segment.Filter, q *Query) (model.TopDocs, error) {
	top, err := s.rescore(ctx, leaves, inner, q)
	s.opts.logger.LogSearch(ctx, q.Field, q.K, top.Len(), err)
	return top, translateError(err)
}

func (s *Searcher) rescore(ctx context.Context, leaves []segment.Leaf, inner segment.Filter, q *Query) (model.TopDocs, error) {
	if inner == nil {
		return model.EmptyTopDocs(), fmt.Errorf("%w: inner query is required", ErrInvalidArgument)
	}
	if q.radial() {
		return model.EmptyTopDocs(), fmt.Errorf("%w: rescore requires k", ErrInvalidArgument)
	}
	_, found, err := q.validate(leaves)
	if err != nil || !found {
		return model.EmptyTopDocs(), err
	}

	tops := make([]model.TopDocs, len(leaves))
	err = s.forEachLeaf(ctx, leaves, func(ctx context.Context, i int, leaf segment.Leaf) error {
		it, err := inner.Iterator(leaf)
		if err != nil {
			return &weight.Error{Field: q.Field, Segment: leaf.Name(), Op: "rescore", Err: err}
		}
		if it == nil {
			return nil
		}
		matched := bitmap.Of(it, leaf.LiveDocs(), leaf.MaxDoc())
		n := matched.Cardinality()
		if n == 0 {
			return nil
		}
		top, err := s.weight.ExactSearch(ctx, leaf, &exact.Context{
			Field:      q.Field,
			FloatQuery: q.Vector,
			ByteQuery:  q.BinaryVector,
			K:          q.K,
			Matched:    matched,
			NumMatched: n,
		})
		if err != nil {
			return err
		}
		tops[i] = top.Offset(leaf.DocBase())
		return nil
	})
	if err != nil {
		return model.EmptyTopDocs(), err
	}
	return merge.MergeTopDocs(q.K, tops...), nil
}

func (s *Searcher) forEachLeaf(ctx context.Context, leaves []segment.Leaf, fn func(ctx context.Context, i int, leaf segment.Leaf) error) error {
	tasks := make([]Task, len(leaves))
	for i, leaf := range leaves {
		tasks[i] = func(ctx context.Context) error { return fn(ctx, i, leaf) }
	}
	return s.opts.executor.Execute(ctx, tasks)
}

func (s *Searcher) forEachState(ctx context.Context, states []leafState, fn func(ctx context.Context, i int, st *leafState) error) error {
	tasks := make([]Task, len(states))
	for i := range states {
		tasks[i] = func(ctx context.Context) error { return fn(ctx, i, &states[i]) }
	}
	return s.opts.executor.Execute(ctx, tasks)
}

func resultCount(tops []model.TopDocs) int {
	n := 0
	for _, t := range tops {
		n += t.Len()
	}
	return n
}

// docSet collects the documents of docs into a bitset over [0, maxDoc).
func docSet(docs []model.ScoredDoc, maxDoc int) bitmap.Bitset {
	set := bitmap.NewSparse(maxDoc)
	for _, d := range docs {
		set.Set(int(d.Doc))
	}
	return set
}

// siblings returns every child of the parents of docs, restricted to
// filterBits and live when they are set. Children after the last parent form one group
// that ends at maxDoc.
func siblings(docs []model.ScoredDoc, parents segment.BitSet, filterBits bitmap.Bitset, live model.Bits, maxDoc int) bitmap.Bitset {
	ids := make([]int, len(docs))
	for i, d := range docs {
		ids[i] = int(d.Doc)
	}
	sort.Ints(ids)

	set := bitmap.NewSparse(maxDoc)
	end := -1
	for _, child := range ids {
		if child < end {
			continue
		}
		parent := parents.NextSetBit(child)
		end = maxDoc
		if parent != model.NoMoreDocs {
			end = int(parent)
		}
		for doc := int(parents.PrevSetBit(child-1)) + 1; doc < end; doc++ {
			if (filterBits == nil || filterBits.Get(doc)) && (live == nil || live.Get(doc)) {
				set.Set(doc)
			}
		}
	}
	return set
}
