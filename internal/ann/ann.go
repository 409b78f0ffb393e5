package ann

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/internal/nativecache"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/segment"
)

// Handle is the reader side of a cached native index.
type Handle interface {
	RLock()
	RUnlock()
	IncRef() bool
	DecRef()
	IsClosed() bool
	Index() native.Index
}

// Cache hands out handles to loaded native indexes.
type Cache interface {
	Acquire(ctx context.Context, key nativecache.Key) (Handle, error)
}

type cacheAdapter struct {
	c *nativecache.Cache
}

func (a cacheAdapter) Acquire(ctx context.Context, key nativecache.Key) (Handle, error) {
	h, err := a.c.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// FromCache adapts a native cache to Cache.
func FromCache(c *nativecache.Cache) Cache {
	return cacheAdapter{c: c}
}

// Request is a single native search over one leaf. It is read-only.
type Request struct {
	Leaf  segment.Leaf
	Field segment.FieldInfo
	// FloatQuery is the float query, possibly transformed for ADC.
	FloatQuery []float32
	// ByteQuery is the binary query or the quantized float query.
	ByteQuery []byte
	// Quantized marks ByteQuery as a quantized float query.
	Quantized bool
	// K selects k-NN search; 0 selects radius search.
	K int
	// Radius is the maximum raw distance of a radius search.
	Radius          float32
	MaxResultWindow int
	// Filter restricts the search. Nil searches every document.
	Filter       *native.Filter
	ParentIDs    []int32
	MethodParams json.RawMessage
}

// Result is the outcome of one native search.
type Result struct {
	// Docs are ordered best first.
	Docs []model.ScoredDoc
	// MissingEngineFiles reports that the field has no native index in
	// the leaf. Docs is empty in that case.
	MissingEngineFiles bool
}

// Stats counts native searches.
type Stats struct {
	Requests int64
	Errors   int64
}

// Options configures an Invoker.
type Options struct {
	Logger *slog.Logger
	// OnSearch is called after every native search attempt.
	OnSearch func(err error)
}

// Invoker runs native searches. It is safe for concurrent use.
type Invoker struct {
	cache  Cache
	opts   Options
	logger *slog.Logger

	requests atomic.Int64
	errors   atomic.Int64
}

// New creates an Invoker over cache.
func New(cache Cache, opts Options) *Invoker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Invoker{cache: cache, opts: opts, logger: logger}
}

// Stats returns the request and error counts.
func (inv *Invoker) Stats() Stats {
	return Stats{Requests: inv.requests.Load(), Errors: inv.errors.Load()}
}

// Search runs req against the native index of its field.
func (inv *Invoker) Search(ctx context.Context, req *Request) (Result, error) {
	files := req.Leaf.EngineFiles(req.Field.Name)
	if len(files) == 0 {
		inv.logger.Debug("no engine files", "field", req.Field.Name, "segment", req.Leaf.Name())
		return Result{MissingEngineFiles: true}, nil
	}

	inv.requests.Add(1)
	docs, err := inv.search(ctx, nativecache.Key{File: files[0], Segment: req.Leaf.ID()}, req)
	if inv.opts.OnSearch != nil {
		inv.opts.OnSearch(err)
	}
	if err != nil {
		inv.errors.Add(1)
		inv.logger.Error("native search failed", "field", req.Field.Name, "segment", req.Leaf.Name(), "error", err)
		return Result{}, err
	}
	return Result{Docs: docs}, nil
}

func (inv *Invoker) search(ctx context.Context, key nativecache.Key, req *Request) ([]model.ScoredDoc, error) {
	h, err := inv.cache.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire native index %s: %w", key, err)
	}

	h.RLock()
	defer h.RUnlock()
	if !h.IncRef() {
		return nil, fmt.Errorf("%w: %s", model.ErrIndexEvicted, key)
	}
	defer h.DecRef()

	idx := h.Index()
	if idx == nil || h.IsClosed() {
		return nil, fmt.Errorf("%w: %s", model.ErrIndexClosed, key)
	}

	nreq := &native.Request{
		Vector:       req.FloatQuery,
		Code:         req.ByteQuery,
		K:            req.K,
		Radius:       req.Radius,
		MaxResults:   req.MaxResultWindow,
		Filter:       req.Filter,
		ParentIDs:    req.ParentIDs,
		MethodParams: req.MethodParams,
		Space:        req.Field.Space,
	}

	var results []native.Result
	switch {
	case req.K == 0:
		results, err = idx.RadiusSearch(ctx, nreq)
	case req.Field.DataType == model.VectorDataTypeBinary || req.Quantized:
		results, err = idx.SearchBinary(ctx, nreq)
	default:
		results, err = idx.Search(ctx, nreq)
	}
	if err != nil {
		return nil, err
	}

	space := req.Field.Space
	if req.Quantized {
		space = distance.SpaceHamming
	}
	return scores(results, space), nil
}

// scores converts raw distances into scores, best first.
func scores(results []native.Result, space distance.SpaceType) []model.ScoredDoc {
	if len(results) == 0 {
		return nil
	}
	docs := make([]model.ScoredDoc, 0, len(results))
	for _, r := range results {
		docs = append(docs, model.ScoredDoc{Doc: r.Doc, Score: space.Score(r.Distance)})
	}
	sort.SliceStable(docs, func(i, j int) bool { return model.Better(docs[i], docs[j]) })
	return docs
}

// IsRetryable reports whether err is a transient eviction race.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrIndexEvicted)
}
