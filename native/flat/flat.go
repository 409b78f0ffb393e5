package flat

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/internal/queue"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
	"github.com/hupe1980/knnquery/quantization"
)

// EngineName is the name flat engine files are registered under.
const EngineName = "flat"

// checkEvery is the number of scored vectors between context checks.
const checkEvery = 1024

// Compile-time checks to ensure the engine satisfies the native contracts.
var (
	_ native.Engine = Engine{}
	_ native.Index  = (*Index)(nil)
)

// Engine loads flat engine files.
type Engine struct{}

// New returns the flat engine.
func New() Engine { return Engine{} }

// Name implements native.Engine.
func (Engine) Name() string { return EngineName }

// SupportsRadius implements native.Engine.
func (Engine) SupportsRadius() bool { return true }

// Load implements native.Engine. The data is copied.
func (Engine) Load(name string, data []byte) (native.Index, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	idx := &Index{
		dataType: h.dataType,
		space:    h.space,
		dim:      h.dim,
		docs:     make([]int32, h.count),
	}
	off := headerSize
	for i := range idx.docs {
		idx.docs[i] = int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	switch h.dataType {
	case model.VectorDataTypeFloat:
		idx.floats = make([]float32, h.count*h.dim)
		for i := range idx.floats {
			idx.floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	case model.VectorDataTypeByte:
		idx.floats = distance.BytesToFloat(make([]float32, 0, h.count*h.dim), data[off:off+h.count*h.dim])
	default:
		idx.codeSize = h.codeSize()
		idx.codes = append([]byte(nil), data[off:off+h.count*idx.codeSize]...)
	}
	return idx, nil
}

// Index is a loaded flat engine file.
// It is immutable and safe for concurrent searches.
type Index struct {
	dataType model.VectorDataType
	space    distance.SpaceType
	dim      int
	docs     []int32
	floats   []float32 // float and widened byte vectors
	codes    []byte    // packed bit codes
	codeSize int
}

// Dimension returns the vector dimension (bits for binary files).
func (x *Index) Dimension() int { return x.dim }

// Len returns the number of indexed documents.
func (x *Index) Len() int { return len(x.docs) }

// SizeBytes implements native.Index.
func (x *Index) SizeBytes() int64 {
	return int64(4*len(x.docs) + 4*len(x.floats) + len(x.codes))
}

// Close implements native.Index.
func (x *Index) Close() error {
	x.docs, x.floats, x.codes = nil, nil, nil
	return nil
}

// Search implements native.Index. Binary files with a non-Hamming space
// score the float query against the stored codes asymmetrically.
func (x *Index) Search(ctx context.Context, req *native.Request) ([]native.Result, error) {
	dist, err := x.floatDistance(req.Vector)
	if err != nil {
		return nil, err
	}
	return x.knn(ctx, req, dist)
}

// SearchBinary implements native.Index.
func (x *Index) SearchBinary(ctx context.Context, req *native.Request) ([]native.Result, error) {
	dist, err := x.bitDistance(req.Code)
	if err != nil {
		return nil, err
	}
	return x.knn(ctx, req, dist)
}

// RadiusSearch implements native.Index. A bit query is used when Code is
// set, otherwise the float Vector.
func (x *Index) RadiusSearch(ctx context.Context, req *native.Request) ([]native.Result, error) {
	var (
		dist func(i int) float32
		err  error
	)
	if req.Code != nil {
		dist, err = x.bitDistance(req.Code)
	} else {
		dist, err = x.floatDistance(req.Vector)
	}
	if err != nil {
		return nil, err
	}

	var out []native.Result
	err = x.scan(ctx, req, dist, func(r native.Result) {
		if r.Distance <= req.Radius {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	out = groupByParent(out, req.ParentIDs)
	sortResults(out)
	if req.MaxResults > 0 && len(out) > req.MaxResults {
		out = out[:req.MaxResults]
	}
	return out, nil
}

func (x *Index) floatDistance(q []float32) (func(i int) float32, error) {
	if x.codes != nil {
		if x.space == distance.SpaceHamming {
			return nil, native.Unsupported(EngineName, "float search on hamming index")
		}
		if len(q) != x.dim {
			return nil, dimensionError(len(q), x.dim)
		}
		return func(i int) float32 {
			return quantization.ADCDistance(q, x.code(i), x.space)
		}, nil
	}
	if len(q) != x.dim {
		return nil, dimensionError(len(q), x.dim)
	}
	fn, err := distance.Provider(x.space)
	if err != nil {
		return nil, err
	}
	return func(i int) float32 {
		return fn(q, x.floats[i*x.dim:(i+1)*x.dim])
	}, nil
}

func (x *Index) bitDistance(q []byte) (func(i int) float32, error) {
	if x.codes == nil {
		return nil, native.Unsupported(EngineName, "binary search on "+x.dataType.String()+" index")
	}
	if len(q) != x.codeSize {
		return nil, dimensionError(8*len(q), x.dim)
	}
	return func(i int) float32 {
		return distance.Hamming(q, x.code(i))
	}, nil
}

func (x *Index) code(i int) []byte {
	return x.codes[i*x.codeSize : (i+1)*x.codeSize]
}

func (x *Index) knn(ctx context.Context, req *native.Request, dist func(i int) float32) ([]native.Result, error) {
	if req.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", model.ErrInvalidArgument, req.K)
	}
	if len(req.ParentIDs) > 0 {
		var all []native.Result
		if err := x.scan(ctx, req, dist, func(r native.Result) { all = append(all, r) }); err != nil {
			return nil, err
		}
		all = groupByParent(all, req.ParentIDs)
		sortResults(all)
		if len(all) > req.K {
			all = all[:req.K]
		}
		return all, nil
	}

	top := queue.NewTopK(req.K, closer)
	if err := x.scan(ctx, req, dist, func(r native.Result) { top.Offer(r) }); err != nil {
		return nil, err
	}
	return top.Drain(), nil
}

// scan visits every selected document in ascending doc order.
func (x *Index) scan(ctx context.Context, req *native.Request, dist func(i int) float32, visit func(native.Result)) error {
	f := req.Filter
	if f != nil && f.Type == native.FilterBatch {
		for n, id := range f.IDs {
			if n%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			i := sort.Search(len(x.docs), func(j int) bool { return int64(x.docs[j]) >= id })
			if i < len(x.docs) && int64(x.docs[i]) == id {
				visit(native.Result{Doc: model.DocID(id), Distance: dist(i)})
			}
		}
		return nil
	}
	for i, doc := range x.docs {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !f.Contains(int(doc)) {
			continue
		}
		visit(native.Result{Doc: model.DocID(doc), Distance: dist(i)})
	}
	return nil
}

// groupByParent keeps the closest child per parent. Children without a
// parent are dropped. Without parents the input is returned unchanged.
func groupByParent(rs []native.Result, parents []int32) []native.Result {
	if len(parents) == 0 {
		return rs
	}
	best := make(map[int32]native.Result)
	for _, r := range rs {
		p := native.ParentOf(parents, r.Doc)
		if p < 0 {
			continue
		}
		if cur, ok := best[p]; !ok || closer(r, cur) {
			best[p] = r
		}
	}
	out := make([]native.Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}

// closer orders results by distance ascending, then doc ascending.
func closer(a, b native.Result) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Doc < b.Doc
}

func sortResults(rs []native.Result) {
	sort.Slice(rs, func(i, j int) bool { return closer(rs[i], rs[j]) })
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: query dimension %d does not match index dimension %d", model.ErrInvalidArgument, got, want)
}
