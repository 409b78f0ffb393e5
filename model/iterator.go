package model

import "sort"

// DocIterator walks document ids in strictly increasing order.
//
// A fresh iterator is positioned before the first document (DocID returns -1).
// NextDoc and Advance return NoMoreDocs once exhausted.
type DocIterator interface {
	// DocID returns the current document, -1 before the first call to NextDoc.
	DocID() DocID
	// NextDoc advances to the next document.
	NextDoc() DocID
	// Advance moves to the first document >= target.
	Advance(target DocID) DocID
	// Cost is an upper bound on the number of documents the iterator yields.
	Cost() int64
}

// Bits is random access membership over [0, Len()).
// Live docs and parent masks are exposed through it.
type Bits interface {
	Get(doc int) bool
	Len() int
}

type sliceIterator struct {
	docs []DocID
	pos  int
	cur  DocID
}

// NewSliceIterator returns an iterator over docs.
// docs must be sorted ascending and free of duplicates.
func NewSliceIterator(docs []DocID) DocIterator {
	return &sliceIterator{docs: docs, pos: -1, cur: -1}
}

// NewSortedIterator copies, sorts and de-duplicates docs before iterating.
func NewSortedIterator(docs []DocID) DocIterator {
	cp := make([]DocID, len(docs))
	copy(cp, docs)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:0]
	for i, d := range cp {
		if i > 0 && d == cp[i-1] {
			continue
		}
		out = append(out, d)
	}
	return NewSliceIterator(out)
}

func (it *sliceIterator) DocID() DocID { return it.cur }

func (it *sliceIterator) NextDoc() DocID {
	it.pos++
	if it.pos >= len(it.docs) {
		it.pos = len(it.docs)
		it.cur = NoMoreDocs
		return it.cur
	}
	it.cur = it.docs[it.pos]
	return it.cur
}

func (it *sliceIterator) Advance(target DocID) DocID {
	start := it.pos + 1
	if start < 0 {
		start = 0
	}
	if start > len(it.docs) {
		start = len(it.docs)
	}
	i := sort.Search(len(it.docs)-start, func(i int) bool { return it.docs[start+i] >= target })
	it.pos = start + i
	if it.pos >= len(it.docs) {
		it.cur = NoMoreDocs
		return it.cur
	}
	it.cur = it.docs[it.pos]
	return it.cur
}

func (it *sliceIterator) Cost() int64 { return int64(len(it.docs)) }

// EmptyIterator returns an iterator with no documents.
func EmptyIterator() DocIterator {
	return NewSliceIterator(nil)
}

type rangeIterator struct {
	min, max DocID // [min, max)
	cur      DocID
}

// NewRangeIterator iterates every document in [min, max).
func NewRangeIterator(min, max DocID) DocIterator {
	return &rangeIterator{min: min, max: max, cur: -1}
}

func (it *rangeIterator) DocID() DocID { return it.cur }

func (it *rangeIterator) NextDoc() DocID {
	if it.cur == NoMoreDocs {
		return it.cur
	}
	return it.Advance(it.cur + 1)
}

func (it *rangeIterator) Advance(target DocID) DocID {
	if target < it.min {
		target = it.min
	}
	if target >= it.max {
		it.cur = NoMoreDocs
		return it.cur
	}
	it.cur = target
	return it.cur
}

func (it *rangeIterator) Cost() int64 {
	if it.max <= it.min {
		return 0
	}
	return int64(it.max - it.min)
}

type conjunction struct {
	lead   DocIterator
	others []DocIterator
	cur    DocID
}

// Intersect returns an iterator over documents present in every input.
// The cheapest input leads.
func Intersect(its ...DocIterator) DocIterator {
	if len(its) == 1 {
		return its[0]
	}
	sorted := make([]DocIterator, len(its))
	copy(sorted, its)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cost() < sorted[j].Cost() })
	return &conjunction{lead: sorted[0], others: sorted[1:], cur: -1}
}

func (c *conjunction) DocID() DocID { return c.cur }

func (c *conjunction) NextDoc() DocID {
	return c.align(c.lead.NextDoc())
}

func (c *conjunction) Advance(target DocID) DocID {
	return c.align(c.lead.Advance(target))
}

func (c *conjunction) align(doc DocID) DocID {
outer:
	for doc != NoMoreDocs {
		for _, o := range c.others {
			od := o.DocID()
			if od < doc {
				od = o.Advance(doc)
			}
			if od > doc {
				doc = c.lead.Advance(od)
				continue outer
			}
		}
		c.cur = doc
		return doc
	}
	c.cur = NoMoreDocs
	return NoMoreDocs
}

func (c *conjunction) Cost() int64 { return c.lead.Cost() }

type filtered struct {
	in    DocIterator
	match func(DocID) bool
	cur   DocID
}

// Filter wraps in and skips documents for which match returns false.
func Filter(in DocIterator, match func(DocID) bool) DocIterator {
	return &filtered{in: in, match: match, cur: -1}
}

func (f *filtered) DocID() DocID { return f.cur }

func (f *filtered) NextDoc() DocID {
	return f.skip(f.in.NextDoc())
}

func (f *filtered) Advance(target DocID) DocID {
	return f.skip(f.in.Advance(target))
}

func (f *filtered) skip(doc DocID) DocID {
	for doc != NoMoreDocs && !f.match(doc) {
		doc = f.in.NextDoc()
	}
	f.cur = doc
	return doc
}

func (f *filtered) Cost() int64 { return f.in.Cost() }

// Drain collects the remaining documents of it.
func Drain(it DocIterator) []DocID {
	var out []DocID
	for d := it.NextDoc(); d != NoMoreDocs; d = it.NextDoc() {
		out = append(out, d)
	}
	return out
}
