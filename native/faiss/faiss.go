//go:build faiss

package faiss

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	faiss "github.com/blevesearch/go-faiss"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
)

// EngineName is the name FAISS engine files are registered under.
const EngineName = "faiss"

var (
	_ native.Engine = Engine{}
	_ native.Index  = (*Index)(nil)
)

// Engine loads serialized FAISS indexes.
type Engine struct{}

// New returns the FAISS engine.
func New() Engine { return Engine{} }

// Name implements native.Engine.
func (Engine) Name() string { return EngineName }

// SupportsRadius implements native.Engine.
func (Engine) SupportsRadius() bool { return true }

// Load implements native.Engine.
func (Engine) Load(name string, data []byte) (native.Index, error) {
	idx, err := faiss.ReadIndexFromBuffer(data, faiss.IOFlagReadOnly)
	if err != nil {
		return nil, fmt.Errorf("faiss: load %s: %w", name, err)
	}
	return &Index{idx: idx, size: int64(len(data))}, nil
}

// Index wraps a loaded FAISS index.
type Index struct {
	idx  *faiss.IndexImpl
	size int64
}

// SizeBytes implements native.Index.
func (x *Index) SizeBytes() int64 { return x.size }

// Close implements native.Index.
func (x *Index) Close() error {
	x.idx.Close()
	return nil
}

// Search implements native.Index.
func (x *Index) Search(ctx context.Context, req *native.Request) ([]native.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := x.query(req)
	if err != nil {
		return nil, err
	}

	k := int64(req.K)
	if len(req.ParentIDs) > 0 {
		// over-fetch so that grouping by parent can still fill k
		k *= 4
	}
	if n := x.idx.Ntotal(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	var (
		dists  []float32
		labels []int64
	)
	if req.Filter != nil {
		sel, err := selector(req.Filter)
		if err != nil {
			return nil, fmt.Errorf("faiss: selector: %w", err)
		}
		defer sel.Delete()
		dists, labels, err = x.idx.SearchWithIDs(q, k, sel, req.MethodParams)
		if err != nil {
			return nil, fmt.Errorf("faiss: search: %w", err)
		}
	} else {
		dists, labels, err = x.idx.Search(q, k)
		if err != nil {
			return nil, fmt.Errorf("faiss: search: %w", err)
		}
	}

	out := x.results(req.Space, dists, labels)
	if len(req.ParentIDs) > 0 {
		out = groupByParent(out, req.ParentIDs)
	}
	if len(out) > req.K {
		out = out[:req.K]
	}
	return out, nil
}

// SearchBinary implements native.Index.
func (x *Index) SearchBinary(context.Context, *native.Request) ([]native.Result, error) {
	return nil, native.Unsupported(EngineName, "binary search")
}

// RadiusSearch implements native.Index.
func (x *Index) RadiusSearch(ctx context.Context, req *native.Request) ([]native.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := x.query(req)
	if err != nil {
		return nil, err
	}

	radius := req.Radius
	if x.idx.MetricType() == faiss.MetricInnerProduct {
		// similarity threshold
		if req.Space == distance.SpaceCosine {
			radius = 1 - req.Radius
		} else {
			radius = -req.Radius
		}
	}
	res, err := x.idx.RangeSearch(q, radius)
	if err != nil {
		return nil, fmt.Errorf("faiss: range search: %w", err)
	}
	defer res.Delete()

	labels, dists := res.Labels()
	out := x.results(req.Space, dists, labels)
	filtered := out[:0]
	for _, r := range out {
		if req.Filter.Contains(int(r.Doc)) && r.Distance <= req.Radius {
			filtered = append(filtered, r)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return closer(filtered[i], filtered[j]) })
	out = groupByParent(filtered, req.ParentIDs)
	if req.MaxResults > 0 && len(out) > req.MaxResults {
		out = out[:req.MaxResults]
	}
	return out, nil
}

func (x *Index) query(req *native.Request) ([]float32, error) {
	if len(req.Vector) != x.idx.D() {
		return nil, fmt.Errorf("%w: query dimension %d does not match index dimension %d",
			model.ErrInvalidArgument, len(req.Vector), x.idx.D())
	}
	if req.Space != distance.SpaceCosine {
		return req.Vector, nil
	}
	return normalize(req.Vector), nil
}

func (x *Index) results(space distance.SpaceType, dists []float32, labels []int64) []native.Result {
	ip := x.idx.MetricType() == faiss.MetricInnerProduct
	out := make([]native.Result, 0, len(labels))
	for i, l := range labels {
		if l < 0 {
			continue
		}
		d := dists[i]
		if ip {
			if space == distance.SpaceCosine {
				d = 1 - d
			} else {
				d = -d
			}
		}
		out = append(out, native.Result{Doc: model.DocID(l), Distance: d})
	}
	return out
}

func selector(f *native.Filter) (faiss.Selector, error) {
	if f.Type == native.FilterBitmap {
		b := make([]byte, 8*len(f.Words))
		for i, w := range f.Words {
			binary.LittleEndian.PutUint64(b[8*i:], w)
		}
		return faiss.NewIDSelectorBitmap(b)
	}
	return faiss.NewIDSelectorBatch(f.IDs)
}

func normalize(v []float32) []float32 {
	n := distance.Dot(v, v)
	if n == 0 {
		return v
	}
	out := make([]float32, len(v))
	inv := float32(1 / math.Sqrt(float64(n)))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func groupByParent(rs []native.Result, parents []int32) []native.Result {
	if len(parents) == 0 {
		return rs
	}
	seen := make(map[int32]struct{}, len(rs))
	out := rs[:0]
	// rs is ordered closest first, so the first child per parent wins
	for _, r := range rs {
		p := native.ParentOf(parents, r.Doc)
		if p < 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, r)
	}
	return out
}

func closer(a, b native.Result) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Doc < b.Doc
}
