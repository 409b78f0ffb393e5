package distance

import (
	"math"
	"math/bits"

	"github.com/viterin/vek/vek32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	d := vek32.Distance(a, b)
	return d * d
}

// L1 calculates the Manhattan distance between two vectors.
func L1(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.ManhattanDistance(a, b)
}

// Linf calculates the Chebyshev distance between two vectors.
func Linf(a, b []float32) float32 {
	var m float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

// CosineDistance returns 1 - cos(a, b). Zero vectors have similarity 0.
func CosineDistance(a, b []float32) float32 {
	na := vek32.Norm(a)
	nb := vek32.Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - vek32.Dot(a, b)/(na*nb)
}

// NegatedDot returns -dot(a, b).
func NegatedDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Hamming calculates the Hamming distance between two bit-packed byte slices.
// Assumes slices are the same length.
func Hamming(a, b []byte) float32 {
	var dist int
	i := 0
	for ; i+8 <= len(a); i += 8 {
		aw := uint64(a[i]) | uint64(a[i+1])<<8 | uint64(a[i+2])<<16 | uint64(a[i+3])<<24 |
			uint64(a[i+4])<<32 | uint64(a[i+5])<<40 | uint64(a[i+6])<<48 | uint64(a[i+7])<<56
		bw := uint64(b[i]) | uint64(b[i+1])<<8 | uint64(b[i+2])<<16 | uint64(b[i+3])<<24 |
			uint64(b[i+4])<<32 | uint64(b[i+5])<<40 | uint64(b[i+6])<<48 | uint64(b[i+7])<<56
		dist += bits.OnesCount64(aw ^ bw)
	}
	for ; i < len(a); i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(dist)
}

// BytesToFloat widens signed byte vector values into dst and returns it.
// dst is reallocated when it is too small.
func BytesToFloat(dst []float32, src []byte) []float32 {
	if cap(dst) < len(src) {
		dst = make([]float32, len(src))
	}
	dst = dst[:len(src)]
	for i, b := range src {
		dst[i] = float32(int8(b))
	}
	return dst
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// IsZeroBytes reports whether every byte of v is zero.
func IsZeroBytes(v []byte) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
