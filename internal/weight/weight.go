package weight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hupe1980/knnquery/internal/ann"
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/internal/exact"
	"github.com/hupe1980/knnquery/internal/filter"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/quantization"
	"github.com/hupe1980/knnquery/segment"
)

// DefaultMaxDistanceComputations bounds card*dim for the filtered exact
// search shortcut when no threshold is configured.
const DefaultMaxDistanceComputations = 2_048_000

// ThresholdUnset leaves the filtered exact search threshold unconfigured.
const ThresholdUnset = -1

// Context is one vector query as seen by a leaf. It is read-only.
type Context struct {
	Field string
	// FloatQuery is used by float and byte fields.
	FloatQuery []float32
	// ByteQuery is used by binary fields.
	ByteQuery []byte
	K         int
	// Radius, when set, selects radius search. It is a raw distance.
	Radius *float32
	// Filter restricts candidates. Nil matches every document.
	Filter segment.Filter
	// Parents enables nested mode.
	Parents         segment.ParentsFilter
	MethodParams    json.RawMessage
	MaxResultWindow int
}

func (c *Context) dimension() int {
	if c.ByteQuery != nil && c.FloatQuery == nil {
		return len(c.ByteQuery)
	}
	return len(c.FloatQuery)
}

// PerLeafResult is the outcome of one leaf.
type PerLeafResult struct {
	// FilterBits holds the filtered documents, nil without a filter.
	FilterBits bitmap.Bitset
	// Cardinality is the number of filtered documents.
	Cardinality int
	Result      model.TopDocs
	Mode        model.SearchMode
	// MissingEngineFiles reports that the leaf had no native index.
	MissingEngineFiles bool
}

// Options configures a Weight.
type Options struct {
	// BatchThreshold is passed to filter.Select.
	BatchThreshold int
	// MaxDistanceComputations defaults to DefaultMaxDistanceComputations.
	MaxDistanceComputations int
	// FilteredExactSearchThreshold prefers exact search when the filter
	// cardinality is at most this value. Use ThresholdUnset to fall back
	// to the distance computation budget.
	FilteredExactSearchThreshold int
	Logger                       *slog.Logger
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BatchThreshold:               filter.DefaultBatchThreshold,
		MaxDistanceComputations:      DefaultMaxDistanceComputations,
		FilteredExactSearchThreshold: ThresholdUnset,
	}
}

// Weight runs a query over single leaves. It is safe for concurrent use.
type Weight struct {
	engine  native.Engine
	invoker *ann.Invoker
	exact   *exact.Searcher
	states  quantization.StateStore
	opts    Options
	logger  *slog.Logger
}

// New creates a Weight. states may be nil when no field is quantized.
func New(engine native.Engine, invoker *ann.Invoker, searcher *exact.Searcher, states quantization.StateStore, opts Options) *Weight {
	if opts.MaxDistanceComputations <= 0 {
		opts.MaxDistanceComputations = DefaultMaxDistanceComputations
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Weight{engine: engine, invoker: invoker, exact: searcher, states: states, opts: opts, logger: logger}
}

// leafState carries the per-leaf values resolved while routing.
type leafState struct {
	leaf    segment.Leaf
	fi      segment.FieldInfo
	bits    bitmap.Bitset
	card    int
	parents segment.BitSet
	qc      *quantization.SegmentContext
}

// Search runs q over leaf.
func (w *Weight) Search(ctx context.Context, leaf segment.Leaf, q *Context) (PerLeafResult, error) {
	if q.Radius != nil && (w.engine == nil || !w.engine.SupportsRadius()) {
		return PerLeafResult{}, fmt.Errorf("%w: radius search", model.ErrUnsupported)
	}

	bits, card, err := w.filterBits(leaf, q)
	if err != nil {
		return PerLeafResult{}, &Error{Field: q.Field, Segment: leaf.Name(), Op: "filter", Err: err}
	}
	if q.Filter != nil && card == 0 {
		w.logger.Debug("filter matched no documents", "field", q.Field, "segment", leaf.Name())
		return PerLeafResult{FilterBits: bits, Mode: model.SearchModeNone}, nil
	}

	fi, ok := leaf.FieldInfo(q.Field)
	if !ok {
		w.logger.Debug("field not found", "field", q.Field, "segment", leaf.Name())
		return PerLeafResult{FilterBits: bits, Cardinality: card, Mode: model.SearchModeNone}, nil
	}
	st := &leafState{leaf: leaf, fi: fi, bits: bits, card: card}
	if q.Parents != nil {
		if st.parents, err = q.Parents.Parents(leaf); err != nil {
			return PerLeafResult{}, &Error{Field: q.Field, Segment: leaf.Name(), Op: "parents", Err: err}
		}
	}
	if fi.DataType == model.VectorDataTypeFloat {
		if st.qc, err = quantization.Resolve(ctx, w.states, leaf.ID(), fi.Name, fi.Dimension, fi.Space); err != nil {
			return PerLeafResult{}, &Error{Field: q.Field, Segment: leaf.Name(), Op: "quantization", Err: err}
		}
	}

	res := PerLeafResult{FilterBits: bits, Cardinality: card}
	if w.exactPreferred(q, card) {
		w.logger.Debug("exact search preferred", "field", q.Field, "segment", leaf.Name(), "cardinality", card, "k", q.K)
		res.Result, err = w.exactSearch(ctx, st, q)
		res.Mode = model.SearchModeExact
		return res, err
	}

	annRes, err := w.annSearch(ctx, st, q)
	if err != nil {
		return PerLeafResult{}, &Error{Field: q.Field, Segment: leaf.Name(), Op: "ann", Err: err}
	}
	res.MissingEngineFiles = annRes.MissingEngineFiles
	annCount := len(annRes.Docs)

	if w.fallback(q, card, annCount, annRes.MissingEngineFiles) {
		w.logger.Debug("exact search after ann", "field", q.Field, "segment", leaf.Name(),
			"cardinality", card, "k", q.K, "ann_results", annCount, "missing_engine_files", annRes.MissingEngineFiles)
		res.Result, err = w.exactSearch(ctx, st, q)
		res.Mode = model.SearchModeExact
		return res, err
	}

	docs := dropDeleted(annRes.Docs, leaf.LiveDocs())
	res.Result = model.TopDocs{TotalHits: len(docs), Docs: docs}
	res.Mode = model.SearchModeApproximate
	return res, nil
}

// ExactSearch runs ec over leaf. It backs rescoring and nested expansion.
// Quantization state is resolved when ec asks for quantized vectors.
func (w *Weight) ExactSearch(ctx context.Context, leaf segment.Leaf, ec *exact.Context) (model.TopDocs, error) {
	if ec.Radius != nil && (w.engine == nil || !w.engine.SupportsRadius()) {
		return model.EmptyTopDocs(), fmt.Errorf("%w: radius search", model.ErrUnsupported)
	}
	if ec.UseQuantizedVectors && ec.Quantization == nil {
		if fi, ok := leaf.FieldInfo(ec.Field); ok && fi.DataType == model.VectorDataTypeFloat {
			qc, err := quantization.Resolve(ctx, w.states, leaf.ID(), fi.Name, fi.Dimension, fi.Space)
			if err != nil {
				return model.EmptyTopDocs(), &Error{Field: ec.Field, Segment: leaf.Name(), Op: "quantization", Err: err}
			}
			resolved := *ec
			resolved.Quantization = qc
			ec = &resolved
		}
	}
	top, err := w.exact.Search(ctx, leaf, ec)
	if err != nil {
		return model.EmptyTopDocs(), &Error{Field: ec.Field, Segment: leaf.Name(), Op: "exact", Err: err}
	}
	return dropDeletedTop(top, leaf.LiveDocs()), nil
}

// filterBits evaluates the filter of q over leaf, without deleted documents.
func (w *Weight) filterBits(leaf segment.Leaf, q *Context) (bitmap.Bitset, int, error) {
	if q.Filter == nil {
		return nil, 0, nil
	}
	it, err := q.Filter.Iterator(leaf)
	if err != nil {
		return nil, 0, err
	}
	if it == nil {
		return bitmap.NewFixed(leaf.MaxDoc()), 0, nil
	}
	bits := bitmap.Of(it, leaf.LiveDocs(), leaf.MaxDoc())
	return bits, bits.Cardinality(), nil
}

// exactPreferred reports whether a filtered k-NN query skips the native index.
func (w *Weight) exactPreferred(q *Context, card int) bool {
	if q.Filter == nil || q.Radius != nil {
		return false
	}
	if card <= q.K {
		return true
	}
	if t := w.opts.FilteredExactSearchThreshold; t >= 0 {
		return t >= card
	}
	return card*q.dimension() <= w.opts.MaxDistanceComputations
}

// fallback reports whether exact search replaces the native results.
func (w *Weight) fallback(q *Context, card, annCount int, missingEngineFiles bool) bool {
	if annCount == 0 && missingEngineFiles {
		return true
	}
	return q.Filter != nil && q.Radius == nil && card >= q.K && annCount < q.K
}

func (w *Weight) exactSearch(ctx context.Context, st *leafState, q *Context) (model.TopDocs, error) {
	ec := &exact.Context{
		Field:               q.Field,
		FloatQuery:          q.FloatQuery,
		ByteQuery:           q.ByteQuery,
		K:                   q.K,
		Radius:              q.Radius,
		Matched:             st.bits,
		NumMatched:          st.card,
		Parents:             st.parents,
		UseQuantizedVectors: true,
		Quantization:        st.qc,
		MaxResultWindow:     q.MaxResultWindow,
	}
	top, err := w.exact.Search(ctx, st.leaf, ec)
	if err != nil {
		return model.EmptyTopDocs(), &Error{Field: q.Field, Segment: st.leaf.Name(), Op: "exact", Err: err}
	}
	return dropDeletedTop(top, st.leaf.LiveDocs()), nil
}

func (w *Weight) annSearch(ctx context.Context, st *leafState, q *Context) (ann.Result, error) {
	req := &ann.Request{
		Leaf:            st.leaf,
		Field:           st.fi,
		FloatQuery:      q.FloatQuery,
		ByteQuery:       q.ByteQuery,
		K:               q.K,
		MaxResultWindow: q.MaxResultWindow,
		MethodParams:    q.MethodParams,
	}
	if q.Radius != nil {
		req.K = 0
		req.Radius = *q.Radius
		if req.MaxResultWindow <= 0 {
			req.MaxResultWindow = exact.DefaultMaxResultWindow
		}
	}
	if st.qc != nil {
		if st.qc.ADC() {
			req.FloatQuery = quantization.Transform(q.FloatQuery, st.qc)
		} else {
			req.ByteQuery = quantization.Quantize(q.FloatQuery, st.qc)
			req.Quantized = true
		}
	}
	if st.bits != nil && st.card != st.leaf.MaxDoc() {
		req.Filter = filter.Select(st.bits, st.card, w.opts.BatchThreshold)
	}
	if st.parents != nil {
		req.ParentIDs = parentIDs(st.parents)
	}
	return w.invoker.Search(ctx, req)
}

// parentIDs lists the set bits of parents in ascending order.
func parentIDs(parents segment.BitSet) []int32 {
	ids := make([]int32, 0, parents.Cardinality())
	for d := parents.NextSetBit(0); d != model.NoMoreDocs; d = parents.NextSetBit(int(d) + 1) {
		ids = append(ids, int32(d))
	}
	return ids
}

func dropDeleted(docs []model.ScoredDoc, live model.Bits) []model.ScoredDoc {
	if live == nil {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if live.Get(int(d.Doc)) {
			out = append(out, d)
		}
	}
	return out
}

func dropDeletedTop(top model.TopDocs, live model.Bits) model.TopDocs {
	if live == nil {
		return top
	}
	docs := dropDeleted(top.Docs, live)
	return model.TopDocs{TotalHits: top.TotalHits - (len(top.Docs) - len(docs)), Docs: docs}
}

// Error is a leaf failure with its field and segment.
type Error struct {
	Field   string
	Segment string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on field %q in segment %s: %v", e.Op, e.Field, e.Segment, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
