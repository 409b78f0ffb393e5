package segment

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/model"
)

// RoaringFilter matches the documents of a roaring bitmap per segment.
// Segments without an entry match nothing.
type RoaringFilter map[model.SegmentID]*roaring.Bitmap

// Iterator implements Filter.
func (f RoaringFilter) Iterator(leaf Leaf) (model.DocIterator, error) {
	rb, ok := f[leaf.ID()]
	if !ok || rb.IsEmpty() {
		return nil, nil
	}
	return bitmap.WrapRoaring(rb, leaf.MaxDoc()).Iterator(), nil
}

// BitSetFilter matches the documents of a dense bitset per segment.
// A dense bitset is handed to the native engine without conversion.
type BitSetFilter map[model.SegmentID]*bitset.BitSet

// Iterator implements Filter.
func (f BitSetFilter) Iterator(leaf Leaf) (model.DocIterator, error) {
	bs, ok := f[leaf.ID()]
	if !ok || bs.None() {
		return nil, nil
	}
	return bitmap.WrapFixed(bs, leaf.MaxDoc()).Iterator(), nil
}

// DocsFilter matches an explicit list of documents per segment.
type DocsFilter map[model.SegmentID][]model.DocID

// Iterator implements Filter.
func (f DocsFilter) Iterator(leaf Leaf) (model.DocIterator, error) {
	docs, ok := f[leaf.ID()]
	if !ok || len(docs) == 0 {
		return nil, nil
	}
	return model.NewSortedIterator(docs), nil
}

// PredicateFilter matches the documents of a leaf for which fn returns true.
func PredicateFilter(fn func(leaf Leaf, doc model.DocID) bool) Filter {
	return FilterFunc(func(leaf Leaf) (model.DocIterator, error) {
		all := model.NewRangeIterator(0, model.DocID(leaf.MaxDoc()))
		return model.Filter(all, func(d model.DocID) bool { return fn(leaf, d) }), nil
	})
}

// NewBitSet returns a dense BitSet over [0, maxDoc) with docs set.
func NewBitSet(maxDoc int, docs ...model.DocID) BitSet {
	f := bitmap.NewFixed(maxDoc)
	for _, d := range docs {
		f.Set(int(d))
	}
	return f
}

// ParentDocs is a ParentsFilter backed by explicit parent lists per segment.
type ParentDocs map[model.SegmentID][]model.DocID

// Parents implements ParentsFilter.
func (p ParentDocs) Parents(leaf Leaf) (BitSet, error) {
	return NewBitSet(leaf.MaxDoc(), p[leaf.ID()]...), nil
}
