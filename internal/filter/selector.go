package filter

import (
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/native"
)

// DefaultBatchThreshold is the cardinality below which ids are passed as a batch.
const DefaultBatchThreshold = 2_000_000

// Type discriminates the filter representation.
type Type = native.FilterType

const (
	// TypeBitmap passes the dense bitmap words.
	TypeBitmap = native.FilterBitmap
	// TypeBatch passes a sorted array of document ids.
	TypeBatch = native.FilterBatch
)

// Selector is the filter representation for one native call.
type Selector = native.Filter

// Select chooses the representation for bits with the given cardinality.
//
// A dense bitset is reused directly. Otherwise a batch is materialized when
// cardinality < threshold, and a dense bitmap is built when it is not.
// A non-positive threshold selects DefaultBatchThreshold.
func Select(bits bitmap.Bitset, cardinality, threshold int) *Selector {
	if threshold <= 0 {
		threshold = DefaultBatchThreshold
	}
	if f, ok := bits.(*bitmap.Fixed); ok {
		return &Selector{Type: TypeBitmap, Words: f.Words(), Cardinality: cardinality, MaxDoc: bits.Len()}
	}
	if cardinality < threshold {
		return &Selector{Type: TypeBatch, IDs: bitmap.ToArray(bits), Cardinality: cardinality, MaxDoc: bits.Len()}
	}
	f := bitmap.ToFixed(bits)
	return &Selector{Type: TypeBitmap, Words: f.Words(), Cardinality: cardinality, MaxDoc: bits.Len()}
}
