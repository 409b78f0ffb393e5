package distance

import (
	"math"
	"testing"

	"github.com/hupe1980/knnquery/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawDistances(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	tests := []struct {
		name     string
		fn       Func
		expected float32
	}{
		{"SquaredL2", SquaredL2, 25},
		{"L1", L1, 7},
		{"Linf", Linf, 4},
		{"NegatedDot", NegatedDot, -25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.fn(a, b), 1e-4)
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	// Zero vectors are treated as orthogonal.
	assert.InDelta(t, 1, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-6)
}

func TestHamming(t *testing.T) {
	assert.Equal(t, float32(0), Hamming([]byte{0xFF, 0x0F}, []byte{0xFF, 0x0F}))
	assert.Equal(t, float32(8), Hamming([]byte{0xFF}, []byte{0x00}))

	a := make([]byte, 19)
	b := make([]byte, 19)
	a[0], a[9], a[18] = 0x01, 0x03, 0x80
	assert.Equal(t, float32(4), Hamming(a, b))
}

func TestBytesToFloat(t *testing.T) {
	got := BytesToFloat(nil, []byte{0x01, 0xFF, 0x80})
	assert.Equal(t, []float32{1, -1, -128}, got)

	buf := make([]float32, 8)
	got = BytesToFloat(buf, []byte{0x02})
	assert.Equal(t, []float32{2}, got)
}

func TestScoreIsMonotonic(t *testing.T) {
	raws := []float32{-10, -1, -0.5, 0, 0.5, 1, 10}
	for _, s := range []SpaceType{SpaceL2, SpaceInnerProduct, SpaceHamming} {
		for i := 1; i < len(raws); i++ {
			if s != SpaceInnerProduct && raws[i-1] < 0 {
				continue
			}
			assert.Greater(t, s.Score(raws[i-1]), s.Score(raws[i]), "space %v raw %v vs %v", s, raws[i-1], raws[i])
		}
	}
}

func TestInnerProductScore(t *testing.T) {
	assert.InDelta(t, 1.0, SpaceInnerProduct.Score(0), 1e-6)
	assert.InDelta(t, 0.5, SpaceInnerProduct.Score(1), 1e-6)
	assert.InDelta(t, 3.0, SpaceInnerProduct.Score(-2), 1e-6)
}

func TestScoreToDistanceRoundTrip(t *testing.T) {
	for _, s := range []SpaceType{SpaceL2, SpaceInnerProduct, SpaceCosine} {
		for _, raw := range []float32{0, 0.25, 3} {
			d, err := s.ScoreToDistance(s.Score(raw))
			require.NoError(t, err)
			assert.InDelta(t, raw, d, 1e-5)
		}
	}

	d, err := SpaceInnerProduct.ScoreToDistance(SpaceInnerProduct.Score(-4))
	require.NoError(t, err)
	assert.InDelta(t, -4, d, 1e-5)

	_, err = SpaceL2.ScoreToDistance(0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestValidation(t *testing.T) {
	assert.ErrorIs(t, SpaceCosine.ValidateVector([]float32{0, 0}), model.ErrInvalidArgument)
	assert.NoError(t, SpaceL2.ValidateVector([]float32{0, 0}))
	assert.ErrorIs(t, SpaceL2.ValidateVector([]float32{float32(math.NaN())}), model.ErrInvalidArgument)
	assert.ErrorIs(t, SpaceCosine.ValidateBytes([]byte{0}), model.ErrInvalidArgument)

	assert.ErrorIs(t, SpaceHamming.ValidateDataType(model.VectorDataTypeFloat), model.ErrInvalidArgument)
	assert.ErrorIs(t, SpaceL2.ValidateDataType(model.VectorDataTypeBinary), model.ErrInvalidArgument)
	assert.NoError(t, SpaceHamming.ValidateDataType(model.VectorDataTypeBinary))
	assert.NoError(t, SpaceL2.ValidateDataType(model.VectorDataTypeByte))
}

func TestParseSpaceType(t *testing.T) {
	for _, s := range []SpaceType{SpaceL2, SpaceL1, SpaceLinf, SpaceCosine, SpaceInnerProduct, SpaceHamming} {
		got, err := ParseSpaceType(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSpaceType("euclid")
	assert.Error(t, err)
}

func TestProviders(t *testing.T) {
	_, err := Provider(SpaceHamming)
	assert.ErrorIs(t, err, model.ErrUnsupported)
	_, err = ProviderBytes(SpaceL2)
	assert.ErrorIs(t, err, model.ErrUnsupported)
	fn, err := ProviderBytes(SpaceHamming)
	require.NoError(t, err)
	assert.Equal(t, float32(1), fn([]byte{1}, []byte{0}))
}
