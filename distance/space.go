package distance

import (
	"fmt"
	"math"

	"github.com/hupe1980/knnquery/model"
)

// SpaceType is the similarity space of a vector field.
type SpaceType uint8

const (
	SpaceL2 SpaceType = iota
	SpaceL1
	SpaceLinf
	SpaceCosine
	SpaceInnerProduct
	SpaceHamming
)

// DefaultSpace is used for float and byte fields without an explicit space.
const DefaultSpace = SpaceL2

// DefaultBinarySpace is used for binary fields without an explicit space.
const DefaultBinarySpace = SpaceHamming

func (s SpaceType) String() string {
	switch s {
	case SpaceL2:
		return "l2"
	case SpaceL1:
		return "l1"
	case SpaceLinf:
		return "linf"
	case SpaceCosine:
		return "cosinesimil"
	case SpaceInnerProduct:
		return "innerproduct"
	case SpaceHamming:
		return "hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// ParseSpaceType parses the canonical lower-case name of a space type.
func ParseSpaceType(s string) (SpaceType, error) {
	switch s {
	case "l2":
		return SpaceL2, nil
	case "l1":
		return SpaceL1, nil
	case "linf":
		return SpaceLinf, nil
	case "cosinesimil":
		return SpaceCosine, nil
	case "innerproduct":
		return SpaceInnerProduct, nil
	case "hamming":
		return SpaceHamming, nil
	default:
		return 0, fmt.Errorf("%w: unknown space type %q", model.ErrInvalidArgument, s)
	}
}

// Func is a function type for raw distance calculation on float vectors.
type Func func(a, b []float32) float32

// FuncBytes is a function type for raw distance calculation on bit-packed vectors.
type FuncBytes func(a, b []byte) float32

// Provider returns the raw float distance function of the space.
func Provider(s SpaceType) (Func, error) {
	switch s {
	case SpaceL2:
		return SquaredL2, nil
	case SpaceL1:
		return L1, nil
	case SpaceLinf:
		return Linf, nil
	case SpaceCosine:
		return CosineDistance, nil
	case SpaceInnerProduct:
		return NegatedDot, nil
	default:
		return nil, fmt.Errorf("%w: space %v has no float distance", model.ErrUnsupported, s)
	}
}

// ProviderBytes returns the raw distance function for bit-packed vectors.
func ProviderBytes(s SpaceType) (FuncBytes, error) {
	switch s {
	case SpaceHamming:
		return Hamming, nil
	default:
		return nil, fmt.Errorf("%w: space %v has no binary distance", model.ErrUnsupported, s)
	}
}

// Distance computes the raw distance between two float vectors.
// Hamming is not defined for float vectors and yields +Inf.
func (s SpaceType) Distance(a, b []float32) float32 {
	fn, err := Provider(s)
	if err != nil {
		return float32(math.Inf(1))
	}
	return fn(a, b)
}

// Score converts a raw engine distance into a similarity score.
// The transform is strictly decreasing in raw.
func (s SpaceType) Score(raw float32) float32 {
	if s == SpaceInnerProduct {
		if raw >= 0 {
			return 1 / (1 + raw)
		}
		return 1 - raw
	}
	return 1 / (1 + raw)
}

// ScoreToDistance inverts Score. It is used to turn a minimum score into a
// radius for native range search.
func (s SpaceType) ScoreToDistance(score float32) (float32, error) {
	if score <= 0 || !isFinite(score) {
		return 0, fmt.Errorf("%w: score must be positive and finite for space %v, got %v", model.ErrInvalidArgument, s, score)
	}
	if s == SpaceInnerProduct && score > 1 {
		return 1 - score, nil
	}
	return 1/score - 1, nil
}

// ValidateDataType reports whether the space can be used with the data type.
func (s SpaceType) ValidateDataType(dt model.VectorDataType) error {
	if s == SpaceHamming && dt != model.VectorDataTypeBinary {
		return fmt.Errorf("%w: space type %v is not supported with %v data type", model.ErrInvalidArgument, s, dt)
	}
	if dt == model.VectorDataTypeBinary && s != SpaceHamming {
		return fmt.Errorf("%w: space type %v is not supported with %v data type", model.ErrInvalidArgument, s, dt)
	}
	return nil
}

// ValidateVector rejects query vectors the space cannot score.
func (s SpaceType) ValidateVector(v []float32) error {
	if s == SpaceCosine && IsZero(v) {
		return fmt.Errorf("%w: zero vector is not supported when space type is %v", model.ErrInvalidArgument, s)
	}
	for _, x := range v {
		if !isFinite(x) {
			return fmt.Errorf("%w: vector contains non-finite value", model.ErrInvalidArgument)
		}
	}
	return nil
}

// ValidateBytes rejects byte query vectors the space cannot score.
func (s SpaceType) ValidateBytes(v []byte) error {
	if s == SpaceCosine && IsZeroBytes(v) {
		return fmt.Errorf("%w: zero vector is not supported when space type is %v", model.ErrInvalidArgument, s)
	}
	return nil
}
