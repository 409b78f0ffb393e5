package knnquery

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/segment"
)

const (
	// DefaultOversampleFactor is used when a RescoreContext leaves it unset.
	DefaultOversampleFactor = 1.0
	// MinFirstPassResults is the first pass floor for fields below
	// LowDimensionThreshold.
	MinFirstPassResults = 100
	// MaxFirstPassResults caps the first pass k.
	MaxFirstPassResults = 10000
	// LowDimensionThreshold is the dimension under which the first pass
	// is raised to MinFirstPassResults.
	LowDimensionThreshold = 1000
)

// RescoreContext enables a full precision second pass over oversampled
// first pass results.
type RescoreContext struct {
	OversampleFactor float32
}

// FirstPassK returns the number of first pass results for k and a field of
// dimension dim. It is never below k.
func (r *RescoreContext) FirstPassK(k, dim int) int {
	f := float64(r.OversampleFactor)
	if f <= 0 {
		f = DefaultOversampleFactor
	}
	n := int(math.Ceil(float64(k) * f))
	if dim < LowDimensionThreshold {
		n = max(n, MinFirstPassResults)
	}
	n = min(n, MaxFirstPassResults)
	return max(n, k)
}

// Query is a k-NN or radius query. It is read-only once passed to a Searcher.
type Query struct {
	Field string
	// Vector is the query of float and byte fields. Byte field queries
	// hold integral values in [-128, 127].
	Vector []float32
	// BinaryVector is the packed bit query of binary fields.
	BinaryVector []byte
	// K is the number of neighbors. It is mutually exclusive with the
	// radius settings.
	K int
	// MaxDistance selects radius search over raw distances.
	MaxDistance *float32
	// MinScore selects radius search over scores.
	MinScore *float32
	// Filter restricts candidates. Nil matches every document.
	Filter segment.Filter
	// Parents enables nested mode: at most one child per parent.
	Parents segment.ParentsFilter
	// MethodParams is engine-specific search tuning, e.g. {"ef_search":100}.
	MethodParams json.RawMessage
	// MaxResultWindow bounds radius results per leaf.
	MaxResultWindow int
	Rescore         *RescoreContext
	// ExpandNested returns every sibling of the matched children.
	ExpandNested bool
}

func (q *Query) radial() bool {
	return q.MaxDistance != nil || q.MinScore != nil
}

// validate checks q before any leaf is searched. It returns the info of
// the field from the first leaf that has it, and false when no leaf does.
func (q *Query) validate(leaves []segment.Leaf) (segment.FieldInfo, bool, error) {
	switch {
	case q.Field == "":
		return segment.FieldInfo{}, false, fmt.Errorf("%w: field is required", ErrInvalidArgument)
	case q.K < 0:
		return segment.FieldInfo{}, false, ErrInvalidK
	case q.K == 0 && !q.radial():
		return segment.FieldInfo{}, false, ErrInvalidK
	case q.K > 0 && q.radial():
		return segment.FieldInfo{}, false, fmt.Errorf("%w: k and radius are mutually exclusive", ErrInvalidArgument)
	case q.MaxDistance != nil && q.MinScore != nil:
		return segment.FieldInfo{}, false, fmt.Errorf("%w: max distance and min score are mutually exclusive", ErrInvalidArgument)
	case len(q.Vector) == 0 && len(q.BinaryVector) == 0:
		return segment.FieldInfo{}, false, fmt.Errorf("%w: query vector is required", ErrInvalidArgument)
	case len(q.Vector) > 0 && len(q.BinaryVector) > 0:
		return segment.FieldInfo{}, false, fmt.Errorf("%w: float and binary query vectors are mutually exclusive", ErrInvalidArgument)
	case q.ExpandNested && q.Parents == nil:
		return segment.FieldInfo{}, false, fmt.Errorf("%w: expand nested requires a parents filter", ErrInvalidArgument)
	case q.Rescore != nil && q.radial():
		return segment.FieldInfo{}, false, fmt.Errorf("%w: rescore is not supported with radius search", ErrInvalidArgument)
	}
	if q.Rescore != nil && q.Rescore.OversampleFactor < 0 {
		return segment.FieldInfo{}, false, fmt.Errorf("%w: oversample factor must not be negative", ErrInvalidArgument)
	}

	var (
		fi    segment.FieldInfo
		found bool
	)
	for _, leaf := range leaves {
		if fi, found = leaf.FieldInfo(q.Field); found {
			break
		}
	}
	if !found {
		return fi, false, nil
	}

	if err := fi.Space.ValidateDataType(fi.DataType); err != nil {
		return fi, true, err
	}
	if q.MaxDistance != nil && *q.MaxDistance < 0 && fi.Space != distance.SpaceInnerProduct {
		return fi, true, fmt.Errorf("%w: max distance must not be negative for %v", ErrInvalidArgument, fi.Space)
	}
	switch fi.DataType {
	case model.VectorDataTypeBinary:
		if len(q.BinaryVector) == 0 {
			return fi, true, fmt.Errorf("%w: binary field %q requires a binary query vector", ErrInvalidArgument, q.Field)
		}
		if len(q.BinaryVector) != fi.CodeSize() {
			return fi, true, &ErrDimensionMismatch{Expected: fi.Dimension, Actual: 8 * len(q.BinaryVector)}
		}
	default:
		if len(q.Vector) == 0 {
			return fi, true, fmt.Errorf("%w: %v field %q requires a float query vector", ErrInvalidArgument, fi.DataType, q.Field)
		}
		if len(q.Vector) != fi.Dimension {
			return fi, true, &ErrDimensionMismatch{Expected: fi.Dimension, Actual: len(q.Vector)}
		}
		if err := fi.Space.ValidateVector(q.Vector); err != nil {
			return fi, true, err
		}
		if fi.DataType == model.VectorDataTypeByte {
			for _, x := range q.Vector {
				if x < math.MinInt8 || x > math.MaxInt8 || x != float32(math.Trunc(float64(x))) {
					return fi, true, fmt.Errorf("%w: byte field %q requires integral values in [-128, 127], got %v", ErrInvalidArgument, q.Field, x)
				}
			}
		}
	}
	return fi, true, nil
}

// radius returns the raw distance bound of a radius query, nil for k-NN.
func (q *Query) radius(fi segment.FieldInfo) (*float32, error) {
	if q.MaxDistance != nil {
		r := *q.MaxDistance
		return &r, nil
	}
	if q.MinScore == nil {
		return nil, nil
	}
	r, err := fi.Space.ScoreToDistance(*q.MinScore)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
