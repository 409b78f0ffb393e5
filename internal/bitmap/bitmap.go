package bitmap

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/knnquery/model"
)

// Bitset is a set of segment-local document ids over [0, Len()).
type Bitset interface {
	model.Bits
	// Cardinality returns the number of set bits.
	Cardinality() int
	// NextSetBit returns the first set bit >= from, or model.NoMoreDocs.
	NextSetBit(from int) model.DocID
	// Iterator returns a fresh iterator over the set bits.
	Iterator() model.DocIterator
}

// sparseDivisor mirrors the usual "cost < maxDoc/128" heuristic for choosing
// a sparse representation.
const sparseDivisor = 128

// Fixed is a dense bitset backed by bits-and-blooms/bitset.
type Fixed struct {
	bs     *bitset.BitSet
	length int
	card   int // -1 when unknown
}

// NewFixed creates an empty dense bitset over [0, length).
func NewFixed(length int) *Fixed {
	return &Fixed{bs: bitset.New(uint(length)), length: length, card: 0}
}

// WrapFixed wraps an existing bits-and-blooms bitset without copying.
func WrapFixed(bs *bitset.BitSet, length int) *Fixed {
	return &Fixed{bs: bs, length: length, card: -1}
}

// WrapFixedWords wraps raw bitmap words (bit i of word i/64 is document i).
func WrapFixedWords(words []uint64, length int) *Fixed {
	return &Fixed{bs: bitset.FromWithLength(uint(length), words), length: length, card: -1}
}

// Set marks doc as present.
func (f *Fixed) Set(doc int) {
	if !f.bs.Test(uint(doc)) {
		f.bs.Set(uint(doc))
		if f.card >= 0 {
			f.card++
		}
	}
}

// Clear marks doc as absent.
func (f *Fixed) Clear(doc int) {
	if f.bs.Test(uint(doc)) {
		f.bs.Clear(uint(doc))
		if f.card >= 0 {
			f.card--
		}
	}
}

// Get reports whether doc is present.
func (f *Fixed) Get(doc int) bool {
	if doc < 0 {
		return false
	}
	return f.bs.Test(uint(doc))
}

// Len returns the universe size.
func (f *Fixed) Len() int { return f.length }

// Cardinality returns the number of set bits.
func (f *Fixed) Cardinality() int {
	if f.card < 0 {
		f.card = int(f.bs.Count())
	}
	return f.card
}

// NextSetBit returns the first set bit >= from.
func (f *Fixed) NextSetBit(from int) model.DocID {
	if from < 0 {
		from = 0
	}
	i, ok := f.bs.NextSet(uint(from))
	if !ok || int(i) >= f.length {
		return model.NoMoreDocs
	}
	return model.DocID(i)
}

// PrevSetBit returns the last set bit <= from, or -1.
func (f *Fixed) PrevSetBit(from int) model.DocID {
	if from < 0 {
		return -1
	}
	if from >= f.length {
		from = f.length - 1
	}
	i, ok := f.bs.PreviousSet(uint(from))
	if !ok {
		return -1
	}
	return model.DocID(i)
}

// Words returns the backing 64-bit words, least significant bit first.
// The slice aliases the bitset and must be treated as read-only.
func (f *Fixed) Words() []uint64 { return f.bs.Words() }

// BitSet returns the underlying bits-and-blooms bitset.
func (f *Fixed) BitSet() *bitset.BitSet { return f.bs }

// Iterator returns an iterator over the set bits.
func (f *Fixed) Iterator() model.DocIterator {
	return &fixedIterator{f: f, cur: -1}
}

type fixedIterator struct {
	f   *Fixed
	cur model.DocID
}

func (it *fixedIterator) DocID() model.DocID { return it.cur }

func (it *fixedIterator) NextDoc() model.DocID {
	if it.cur == model.NoMoreDocs {
		return it.cur
	}
	return it.Advance(it.cur + 1)
}

func (it *fixedIterator) Advance(target model.DocID) model.DocID {
	it.cur = it.f.NextSetBit(int(target))
	return it.cur
}

func (it *fixedIterator) Cost() int64 { return int64(it.f.Cardinality()) }

// Bitset exposes the set backing this iterator so callers can reuse it.
func (it *fixedIterator) Bitset() Bitset { return it.f }

// Sparse is a roaring-backed bitset for low-density filters.
type Sparse struct {
	rb     *roaring.Bitmap
	length int
}

// NewSparse creates an empty sparse bitset over [0, length).
func NewSparse(length int) *Sparse {
	return &Sparse{rb: roaring.New(), length: length}
}

// WrapRoaring wraps an existing roaring bitmap without copying.
func WrapRoaring(rb *roaring.Bitmap, length int) *Sparse {
	return &Sparse{rb: rb, length: length}
}

// Set marks doc as present.
func (s *Sparse) Set(doc int) { s.rb.Add(uint32(doc)) }

// Get reports whether doc is present.
func (s *Sparse) Get(doc int) bool {
	if doc < 0 {
		return false
	}
	return s.rb.Contains(uint32(doc))
}

// Len returns the universe size.
func (s *Sparse) Len() int { return s.length }

// Cardinality returns the number of set bits.
func (s *Sparse) Cardinality() int { return int(s.rb.GetCardinality()) }

// NextSetBit returns the first set bit >= from.
func (s *Sparse) NextSetBit(from int) model.DocID {
	if from < 0 {
		from = 0
	}
	it := s.rb.Iterator()
	it.AdvanceIfNeeded(uint32(from))
	if !it.HasNext() {
		return model.NoMoreDocs
	}
	v := it.Next()
	if int(v) >= s.length {
		return model.NoMoreDocs
	}
	return model.DocID(v)
}

// Roaring returns the underlying roaring bitmap.
func (s *Sparse) Roaring() *roaring.Bitmap { return s.rb }

// ForEach calls fn for every set bit in ascending order until fn returns false.
func (s *Sparse) ForEach(fn func(doc int) bool) {
	it := s.rb.Iterator()
	for it.HasNext() {
		if !fn(int(it.Next())) {
			return
		}
	}
}

// Iterator returns an iterator over the set bits.
func (s *Sparse) Iterator() model.DocIterator {
	return &sparseIterator{it: s.rb.Iterator(), length: s.length, cur: -1, cost: int64(s.rb.GetCardinality())}
}

type sparseIterator struct {
	it     roaring.IntPeekable
	length int
	cur    model.DocID
	cost   int64
}

func (it *sparseIterator) DocID() model.DocID { return it.cur }

func (it *sparseIterator) NextDoc() model.DocID {
	if !it.it.HasNext() {
		it.cur = model.NoMoreDocs
		return it.cur
	}
	v := it.it.Next()
	if int(v) >= it.length {
		it.cur = model.NoMoreDocs
		return it.cur
	}
	it.cur = model.DocID(v)
	return it.cur
}

func (it *sparseIterator) Advance(target model.DocID) model.DocID {
	if target == model.NoMoreDocs {
		it.cur = model.NoMoreDocs
		return it.cur
	}
	it.it.AdvanceIfNeeded(uint32(target))
	return it.NextDoc()
}

func (it *sparseIterator) Cost() int64 { return it.cost }

// Source is implemented by iterators that are views over an existing Bitset.
type Source interface {
	Bitset() Bitset
}

// Of materializes the remaining documents of it that are live into a Bitset
// over [0, maxDoc). When live is nil and it already views a Fixed bitset, that
// bitset is reused as is.
func Of(it model.DocIterator, live model.Bits, maxDoc int) Bitset {
	if live == nil && it.DocID() == -1 {
		if src, ok := it.(Source); ok {
			if f, ok := src.Bitset().(*Fixed); ok {
				return f
			}
		}
	}
	if it.Cost() < int64(maxDoc/sparseDivisor) {
		s := NewSparse(maxDoc)
		fill(it, live, maxDoc, s.Set)
		return s
	}
	f := NewFixed(maxDoc)
	fill(it, live, maxDoc, f.Set)
	return f
}

func fill(it model.DocIterator, live model.Bits, maxDoc int, set func(int)) {
	for d := it.NextDoc(); d != model.NoMoreDocs && int(d) < maxDoc; d = it.NextDoc() {
		if live != nil && !live.Get(int(d)) {
			continue
		}
		set(int(d))
	}
}

// ToFixed returns b as a dense bitset, copying when b is sparse.
func ToFixed(b Bitset) *Fixed {
	if f, ok := b.(*Fixed); ok {
		return f
	}
	f := NewFixed(b.Len())
	it := b.Iterator()
	for d := it.NextDoc(); d != model.NoMoreDocs; d = it.NextDoc() {
		f.Set(int(d))
	}
	return f
}

// ToArray returns the set bits of b in ascending order as int64 ids.
func ToArray(b Bitset) []int64 {
	out := make([]int64, 0, b.Cardinality())
	if s, ok := b.(*Sparse); ok {
		s.ForEach(func(doc int) bool {
			out = append(out, int64(doc))
			return true
		})
		return out
	}
	it := b.Iterator()
	for d := it.NextDoc(); d != model.NoMoreDocs; d = it.NextDoc() {
		out = append(out, int64(d))
	}
	return out
}

// MatchAll is a Bits implementation where every document in [0, n) is set.
type MatchAll int

// Get reports whether doc is within range.
func (m MatchAll) Get(doc int) bool { return doc >= 0 && doc < int(m) }

// Len returns the universe size.
func (m MatchAll) Len() int { return int(m) }
