package exact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/internal/merge"
	"github.com/hupe1980/knnquery/internal/queue"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
	"github.com/hupe1980/knnquery/segment"
)

// DefaultMaxResultWindow bounds radius results when the context leaves it unset.
const DefaultMaxResultWindow = 10000

// DefaultMinDocsPerPartition is the smallest doc range scanned by one partition.
const DefaultMinDocsPerPartition = 8192

// Context describes one exact search over a leaf. It is read-only.
type Context struct {
	Field string
	// FloatQuery is used by float and byte fields.
	FloatQuery []float32
	// ByteQuery is used by binary fields.
	ByteQuery []byte
	K         int
	// Radius, when set, selects radius search; K is ignored.
	Radius *float32
	// Matched restricts scoring to these documents. Nil scores every
	// document that has a vector.
	Matched bitmap.Bitset
	// NumMatched is the cardinality of Matched.
	NumMatched int
	// Parents enables nested mode: one result per parent document.
	Parents segment.BitSet
	// UseQuantizedVectors scores against quantized codes when the field
	// has quantization state.
	UseQuantizedVectors bool
	Quantization        *quantization.SegmentContext
	MaxResultWindow     int
}

// Options configures a Searcher.
type Options struct {
	// MaxPartitions bounds the concurrent doc ranges of one leaf scan.
	// Values <= 1 disable partitioning.
	MaxPartitions int
	// MinDocsPerPartition defaults to DefaultMinDocsPerPartition.
	MinDocsPerPartition int
	Logger              *slog.Logger
}

// Searcher runs exact searches. It is safe for concurrent use.
type Searcher struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Searcher.
func New(opts Options) *Searcher {
	if opts.MinDocsPerPartition <= 0 {
		opts.MinDocsPerPartition = DefaultMinDocsPerPartition
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Searcher{opts: opts, logger: logger}
}

// hit is a heap entry. Sentinels fill the heap until real hits replace them.
type hit struct {
	model.ScoredDoc
	sentinel bool
}

// worse orders the heap so that the top is the weakest hit.
func worse(a, b hit) bool {
	if a.sentinel != b.sentinel {
		return a.sentinel
	}
	return model.Better(b.ScoredDoc, a.ScoredDoc)
}

// Search returns the top documents of leaf for ec.
// A missing field or vector accessor yields an empty result.
func (s *Searcher) Search(ctx context.Context, leaf segment.Leaf, ec *Context) (model.TopDocs, error) {
	plan, err := s.plan(leaf, ec)
	if err != nil || plan == nil {
		return model.EmptyTopDocs(), err
	}

	if ec.Radius != nil {
		minScore := plan.space.Score(*ec.Radius)
		limit := ec.MaxResultWindow
		if limit <= 0 {
			limit = DefaultMaxResultWindow
		}
		return s.partition(ctx, leaf, ec, plan, limit, func(score float32) bool { return score >= minScore })
	}
	if ec.Matched != nil && ec.NumMatched <= ec.K {
		it, err := plan.iterator(ec, 0, model.DocID(leaf.MaxDoc()))
		if err != nil {
			return model.EmptyTopDocs(), err
		}
		return scoreAll(ctx, it)
	}
	return s.partition(ctx, leaf, ec, plan, ec.K, nil)
}

// plan holds the per-leaf scorer setup shared by all partitions.
type plan struct {
	space  distance.SpaceType
	docs   func() model.DocIterator
	scorer func() (scoreFunc, error)
}

func (p *plan) iterator(ec *Context, min, max model.DocID) (Iterator, error) {
	score, err := p.scorer()
	if err != nil {
		return nil, err
	}
	docs := restrict(p.docs(), min, max)
	if ec.Matched != nil {
		docs = model.Intersect(restrict(ec.Matched.Iterator(), min, max), docs)
	}
	return newIterator(docs, ec.Parents, score), nil
}

func (s *Searcher) plan(leaf segment.Leaf, ec *Context) (*plan, error) {
	fi, ok := leaf.FieldInfo(ec.Field)
	if !ok {
		s.logger.Debug("exact search skipped, field not found", "field", ec.Field, "segment", leaf.Name())
		return nil, nil
	}

	switch fi.DataType {
	case model.VectorDataTypeBinary:
		values, err := leaf.ByteVectors(ec.Field)
		if err != nil || values == nil {
			return nil, accessorErr(err)
		}
		if len(ec.ByteQuery) != fi.CodeSize() {
			return nil, dimensionErr(8*len(ec.ByteQuery), fi.Dimension)
		}
		return &plan{
			space:  fi.Space,
			docs:   values.Iterator,
			scorer: func() (scoreFunc, error) { return hammingScorer(values, ec.ByteQuery), nil },
		}, nil

	case model.VectorDataTypeByte:
		values, err := leaf.ByteVectors(ec.Field)
		if err != nil || values == nil {
			return nil, accessorErr(err)
		}
		if len(ec.FloatQuery) != fi.Dimension {
			return nil, dimensionErr(len(ec.FloatQuery), fi.Dimension)
		}
		return &plan{
			space:  fi.Space,
			docs:   values.Iterator,
			scorer: func() (scoreFunc, error) { return byteScorer(values, ec.FloatQuery, fi.Space) },
		}, nil
	}

	if len(ec.FloatQuery) != fi.Dimension {
		return nil, dimensionErr(len(ec.FloatQuery), fi.Dimension)
	}
	if ec.UseQuantizedVectors && ec.Quantization != nil {
		codes, err := leaf.QuantizedVectors(ec.Field)
		if err != nil {
			return nil, accessorErr(err)
		}
		if codes != nil {
			sc := ec.Quantization
			if sc.ADC() {
				q := quantization.Transform(ec.FloatQuery, sc)
				return &plan{
					space:  fi.Space,
					docs:   codes.Iterator,
					scorer: func() (scoreFunc, error) { return adcScorer(codes, q, fi.Space), nil },
				}, nil
			}
			q := quantization.Quantize(ec.FloatQuery, sc)
			return &plan{
				space:  fi.Space,
				docs:   codes.Iterator,
				scorer: func() (scoreFunc, error) { return hammingScorer(codes, q), nil },
			}, nil
		}
	}

	values, err := leaf.FloatVectors(ec.Field)
	if err != nil || values == nil {
		return nil, accessorErr(err)
	}
	return &plan{
		space:  fi.Space,
		docs:   values.Iterator,
		scorer: func() (scoreFunc, error) { return floatScorer(values, ec.FloatQuery, fi.Space) },
	}, nil
}

// partition scans the leaf in one or more doc ranges and merges their results.
func (s *Searcher) partition(ctx context.Context, leaf segment.Leaf, ec *Context, p *plan, limit int, accept func(float32) bool) (model.TopDocs, error) {
	maxDoc := leaf.MaxDoc()
	n := s.numPartitions(maxDoc)
	if n == 1 {
		it, err := p.iterator(ec, 0, model.DocID(maxDoc))
		if err != nil {
			return model.EmptyTopDocs(), err
		}
		return topCandidates(ctx, it, limit, accept)
	}

	type span struct{ min, max int }
	spans := make([]span, 0, n)
	base, rem := maxDoc/n, maxDoc%n
	offset := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		end := partitionEnd(ec.Parents, offset+size, maxDoc)
		if offset >= end {
			break
		}
		spans = append(spans, span{offset, end})
		offset = end
	}

	results := make([]model.TopDocs, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	for i, sp := range spans {
		g.Go(func() error {
			it, err := p.iterator(ec, model.DocID(sp.min), model.DocID(sp.max))
			if err != nil {
				return err
			}
			results[i], err = topCandidates(gctx, it, limit, accept)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.EmptyTopDocs(), err
	}
	return merge.MergeTopDocs(limit, results...), nil
}

func (s *Searcher) numPartitions(maxDoc int) int {
	if s.opts.MaxPartitions <= 1 {
		return 1
	}
	n := max(maxDoc/s.opts.MinDocsPerPartition, 1)
	return min(n, s.opts.MaxPartitions)
}

// partitionEnd moves a tentative range end past the next parent so that a
// parent's children never straddle two ranges.
func partitionEnd(parents segment.BitSet, end, maxDoc int) int {
	if parents == nil {
		return end
	}
	if end >= maxDoc {
		return maxDoc
	}
	next := parents.NextSetBit(end)
	if next == model.NoMoreDocs {
		return maxDoc
	}
	return int(next) + 1
}

// checkEvery is the number of scored documents between context checks.
const checkEvery = 4096

// topCandidates keeps the limit best accepted hits of it.
func topCandidates(ctx context.Context, it Iterator, limit int, accept func(float32) bool) (model.TopDocs, error) {
	if limit <= 0 {
		return model.EmptyTopDocs(), nil
	}
	sentinel := hit{ScoredDoc: model.ScoredDoc{Doc: model.NoMoreDocs, Score: float32(math.Inf(-1))}, sentinel: true}
	h := queue.Prefilled(limit, sentinel, worse)
	top, _ := h.Top()

	n := 0
	for doc := it.Next(); doc != model.NoMoreDocs; doc = it.Next() {
		if n++; n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return model.EmptyTopDocs(), err
			}
		}
		sd := model.ScoredDoc{Doc: doc, Score: it.Score()}
		if accept != nil && !accept(sd.Score) {
			continue
		}
		if top.sentinel || model.Better(sd, top.ScoredDoc) {
			h.UpdateTop(hit{ScoredDoc: sd})
			top, _ = h.Top()
		}
	}
	if err := it.Err(); err != nil {
		return model.EmptyTopDocs(), err
	}

	for h.Len() > 0 {
		if t, _ := h.Top(); !t.sentinel {
			break
		}
		h.Pop()
	}
	docs := make([]model.ScoredDoc, h.Len())
	for i := len(docs) - 1; i >= 0; i-- {
		t, _ := h.Pop()
		docs[i] = t.ScoredDoc
	}
	return model.TopDocs{TotalHits: len(docs), Docs: docs}, nil
}

// scoreAll scores every candidate and sorts them best first.
func scoreAll(ctx context.Context, it Iterator) (model.TopDocs, error) {
	var docs []model.ScoredDoc
	for doc := it.Next(); doc != model.NoMoreDocs; doc = it.Next() {
		docs = append(docs, model.ScoredDoc{Doc: doc, Score: it.Score()})
	}
	if err := it.Err(); err != nil {
		return model.EmptyTopDocs(), err
	}
	if err := ctx.Err(); err != nil {
		return model.EmptyTopDocs(), err
	}
	sort.Slice(docs, func(i, j int) bool { return model.Better(docs[i], docs[j]) })
	return model.TopDocs{TotalHits: len(docs), Docs: docs}, nil
}

// accessorErr treats a missing accessor as an empty leaf.
func accessorErr(err error) error {
	if err == nil || errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("exact: vector accessor: %w", err)
}

func dimensionErr(got, want int) error {
	return fmt.Errorf("%w: query dimension %d does not match field dimension %d", model.ErrInvalidArgument, got, want)
}
