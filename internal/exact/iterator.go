package exact

import (
	"math"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
	"github.com/hupe1980/knnquery/segment"
)

// Iterator yields scored documents in increasing doc order.
type Iterator interface {
	// Next advances to the next document, model.NoMoreDocs when exhausted.
	Next() model.DocID
	// Score returns the score of the current document.
	Score() float32
	// Err returns the first error encountered while scoring.
	Err() error
}

// scoreFunc scores one document.
type scoreFunc func(doc model.DocID) (float32, error)

type flatIterator struct {
	docs  model.DocIterator
	score scoreFunc
	cur   float32
	err   error
}

func (it *flatIterator) Next() model.DocID {
	if it.err != nil {
		return model.NoMoreDocs
	}
	doc := it.docs.NextDoc()
	if doc == model.NoMoreDocs {
		return doc
	}
	it.cur, it.err = it.score(doc)
	if it.err != nil {
		return model.NoMoreDocs
	}
	return doc
}

func (it *flatIterator) Score() float32 { return it.cur }

func (it *flatIterator) Err() error { return it.err }

// nestedIterator groups children by their parent, the next set bit of
// parents at or after the child, and yields the best child of each group.
type nestedIterator struct {
	docs    model.DocIterator
	parents segment.BitSet
	score   scoreFunc
	next    model.DocID // first child of the next group, -1 before start
	cur     float32
	err     error
}

func (it *nestedIterator) Next() model.DocID {
	if it.err != nil {
		return model.NoMoreDocs
	}
	if it.next == -1 {
		it.next = it.docs.NextDoc()
	}
	for it.next != model.NoMoreDocs {
		parent := it.parents.NextSetBit(int(it.next))
		best := model.NoMoreDocs
		bestScore := float32(math.Inf(-1))
		for it.next != model.NoMoreDocs && it.next < parent {
			s, err := it.score(it.next)
			if err != nil {
				it.err = err
				return model.NoMoreDocs
			}
			if best == model.NoMoreDocs || s > bestScore {
				best, bestScore = it.next, s
			}
			it.next = it.docs.NextDoc()
		}
		if it.next == parent {
			// a parent that itself carries a vector is not a child
			it.next = it.docs.NextDoc()
		}
		if best != model.NoMoreDocs {
			it.cur = bestScore
			return best
		}
	}
	return model.NoMoreDocs
}

func (it *nestedIterator) Score() float32 { return it.cur }

func (it *nestedIterator) Err() error { return it.err }

func newIterator(docs model.DocIterator, parents segment.BitSet, score scoreFunc) Iterator {
	if parents != nil {
		return &nestedIterator{docs: docs, parents: parents, score: score, next: -1}
	}
	return &flatIterator{docs: docs, score: score}
}

// floatScorer scores float vectors with the field's space.
func floatScorer(values segment.FloatVectorValues, q []float32, space distance.SpaceType) (scoreFunc, error) {
	fn, err := distance.Provider(space)
	if err != nil {
		return nil, err
	}
	return func(doc model.DocID) (float32, error) {
		v, err := values.Vector(doc)
		if err != nil {
			return 0, err
		}
		return space.Score(fn(q, v)), nil
	}, nil
}

// byteScorer widens signed byte vectors to float and scores them with the
// field's space.
func byteScorer(values segment.ByteVectorValues, q []float32, space distance.SpaceType) (scoreFunc, error) {
	fn, err := distance.Provider(space)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, len(q))
	return func(doc model.DocID) (float32, error) {
		v, err := values.Vector(doc)
		if err != nil {
			return 0, err
		}
		buf = distance.BytesToFloat(buf, v)
		return space.Score(fn(q, buf)), nil
	}, nil
}

// hammingScorer scores packed bit vectors, binary fields and quantized
// codes alike, with Hamming distance.
func hammingScorer(values segment.ByteVectorValues, q []byte) scoreFunc {
	return func(doc model.DocID) (float32, error) {
		v, err := values.Vector(doc)
		if err != nil {
			return 0, err
		}
		return distance.SpaceHamming.Score(distance.Hamming(q, v)), nil
	}
}

// adcScorer scores quantized codes against a transformed float query.
func adcScorer(values segment.ByteVectorValues, q []float32, space distance.SpaceType) scoreFunc {
	return func(doc model.DocID) (float32, error) {
		v, err := values.Vector(doc)
		if err != nil {
			return 0, err
		}
		return space.Score(quantization.ADCDistance(q, v, space)), nil
	}
}

// rangeIterator restricts in to [min, max).
type rangeIterator struct {
	in       model.DocIterator
	min, max model.DocID
	cur      model.DocID
}

func restrict(in model.DocIterator, min, max model.DocID) model.DocIterator {
	return &rangeIterator{in: in, min: min, max: max, cur: -1}
}

func (r *rangeIterator) DocID() model.DocID { return r.cur }

func (r *rangeIterator) NextDoc() model.DocID {
	if r.cur == -1 {
		return r.clip(r.in.Advance(r.min))
	}
	return r.clip(r.in.NextDoc())
}

func (r *rangeIterator) Advance(target model.DocID) model.DocID {
	if target < r.min {
		target = r.min
	}
	return r.clip(r.in.Advance(target))
}

func (r *rangeIterator) clip(doc model.DocID) model.DocID {
	if doc >= r.max {
		doc = model.NoMoreDocs
	}
	r.cur = doc
	return doc
}

func (r *rangeIterator) Cost() int64 {
	c := r.in.Cost()
	if span := int64(r.max - r.min); span < c {
		return span
	}
	return c
}
