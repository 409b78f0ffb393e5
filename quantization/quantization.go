package quantization

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
)

// adcCorrectionFactor is the exponent of the L2 ADC correction term.
const adcCorrectionFactor = 2

// StateStore serves trained quantization state per segment and field.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Get returns the state or an error wrapping ErrStateNotFound.
	Get(ctx context.Context, segment model.SegmentID, field string) (*State, error)
}

// SegmentContext is the quantization context of a field within one segment.
// It is immutable once resolved.
type SegmentContext struct {
	Segment model.SegmentID
	Field   string
	Space   distance.SpaceType
	State   *State
}

// Resolve looks up the quantization context of field in segment. dim is the
// dimension of the field; state of another dimension is rejected.
// It returns nil without error when the field is not quantized.
func Resolve(ctx context.Context, store StateStore, segment model.SegmentID, field string, dim int, space distance.SpaceType) (*SegmentContext, error) {
	if store == nil {
		return nil, nil
	}
	st, err := store.Get(ctx, segment, field)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve quantization state for field %q: %w", field, err)
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("quantization state for field %q in segment %v: %w", field, segment, err)
	}
	if st.Dimension() != dim {
		return nil, fmt.Errorf("%w: quantization state for field %q in segment %v has %d dimensions, field has %d",
			model.ErrInvalidArgument, field, segment, st.Dimension(), dim)
	}
	return &SegmentContext{Segment: segment, Field: field, Space: space, State: st}, nil
}

// ADC reports whether queries should be transformed and scored at full
// precision against the stored bits instead of being quantized.
func (sc *SegmentContext) ADC() bool {
	if sc == nil || !sc.State.ADC() {
		return false
	}
	switch sc.Space {
	case distance.SpaceL2, distance.SpaceInnerProduct, distance.SpaceCosine:
		return true
	default:
		return false
	}
}

// CodeSize returns the size in bytes of one quantized vector.
func (sc *SegmentContext) CodeSize() int { return sc.State.CodeSize() }

// Quantize reduces v to packed bits using the state of sc.
// Bit b*dim+j is set when v[j] > Thresholds[b][j]; bits are packed MSB-first.
func Quantize(v []float32, sc *SegmentContext) []byte {
	st := sc.State
	if st.Rotation != nil {
		v = Rotate(v, st.Rotation)
	}
	dim := len(v)
	out := make([]byte, (st.Bits*dim+7)/8)
	for b, row := range st.Thresholds {
		for j, x := range v {
			if x > row[j] {
				pos := b*dim + j
				out[pos>>3] |= 1 << (7 - (pos & 7))
			}
		}
	}
	return out
}

// Transform returns a new vector comparable with the stored representation.
// It applies the rotation and, for ADC state, maps every value to the unit
// range between the below and above means. L2 additionally applies the
// correction (above-below)^2 * (x-0.5) + 0.5.
func Transform(v []float32, sc *SegmentContext) []float32 {
	st := sc.State
	var out []float32
	if st.Rotation != nil {
		out = Rotate(v, st.Rotation)
	} else {
		out = append([]float32(nil), v...)
	}
	if !st.ADC() {
		return out
	}
	for i := range out {
		below, above := st.BelowMeans[i], st.AboveMeans[i]
		span := above - below
		x := (out[i] - below) / span
		if sc.Space == distance.SpaceL2 {
			c := span
			for p := 1; p < adcCorrectionFactor; p++ {
				c *= span
			}
			x = c*(x-0.5) + 0.5
		}
		out[i] = x
	}
	return out
}

// Rotate returns m·v.
func Rotate(v []float32, m [][]float32) []float32 {
	out := make([]float32, len(m))
	for i, row := range m {
		out[i] = distance.Dot(row, v)
	}
	return out
}

// ADCDistance returns the raw distance (lower is closer) between a transformed
// query and a one-bit code. L2 is the squared difference to the bits, the
// inner product spaces use the negated dot product with the bits.
func ADCDistance(q []float32, code []byte, space distance.SpaceType) float32 {
	var sum float32
	for i, x := range q {
		bit := float32((code[i>>3] >> (7 - (i & 7))) & 1)
		if space == distance.SpaceL2 {
			d := bit - x
			sum += d * d
		} else {
			sum += bit * x
		}
	}
	if space == distance.SpaceL2 {
		return sum
	}
	return -sum
}
