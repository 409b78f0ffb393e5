package native

import (
	"fmt"
	"math/bits"
)

// FilterType discriminates the Filter representation.
type FilterType uint8

const (
	// FilterBitmap passes the dense bitmap words.
	FilterBitmap FilterType = iota
	// FilterBatch passes a sorted array of document ids.
	FilterBatch
)

func (t FilterType) String() string {
	switch t {
	case FilterBitmap:
		return "bitmap"
	case FilterBatch:
		return "batch"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Filter restricts a native search to a subset of a segment's documents.
// Exactly one of Words and IDs is populated, matching Type. A nil *Filter
// selects every document.
type Filter struct {
	Type FilterType
	// Words holds the bitmap, bit i of word i/64 set for document i.
	Words []uint64
	// IDs holds the sorted document ids.
	IDs []int64
	// Cardinality is the number of selected documents.
	Cardinality int
	// MaxDoc is the universe size of the segment.
	MaxDoc int
}

// Contains reports whether doc is selected.
func (f *Filter) Contains(doc int) bool {
	if f == nil {
		return true
	}
	switch f.Type {
	case FilterBitmap:
		w := doc >> 6
		if doc < 0 || w >= len(f.Words) {
			return false
		}
		return f.Words[w]&(1<<(uint(doc)&63)) != 0
	default:
		lo, hi := 0, len(f.IDs)
		target := int64(doc)
		for lo < hi {
			mid := int(uint(lo+hi) >> 1)
			if f.IDs[mid] < target {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		return lo < len(f.IDs) && f.IDs[lo] == target
	}
}

// SelectedIDs returns the selected ids regardless of representation.
func (f *Filter) SelectedIDs() []int64 {
	if f.Type == FilterBatch {
		return f.IDs
	}
	out := make([]int64, 0, f.Cardinality)
	for wi, w := range f.Words {
		for w != 0 {
			doc := wi<<6 + bits.TrailingZeros64(w)
			if f.MaxDoc > 0 && doc >= f.MaxDoc {
				return out
			}
			out = append(out, int64(doc))
			w &= w - 1
		}
	}
	return out
}
