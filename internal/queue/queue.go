// Package queue provides binary heaps used for top-k selection.
package queue

// Heap is a binary heap ordered by less: the top is the element for which
// less reports true against every other element.
type Heap[T any] struct {
	less  func(a, b T) bool
	items []T
}

// New returns an empty heap with the given capacity.
func New[T any](capacity int, less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{less: less, items: make([]T, 0, capacity)}
}

// Prefilled returns a heap holding n copies of fill.
func Prefilled[T any](n int, fill T, less func(a, b T) bool) *Heap[T] {
	items := make([]T, n)
	for i := range items {
		items[i] = fill
	}
	return &Heap[T]{less: less, items: items}
}

// Len returns the number of elements.
func (h *Heap[T]) Len() int { return len(h.items) }

// Top returns the top element.
func (h *Heap[T]) Top() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Push inserts x.
func (h *Heap[T]) Push(x T) {
	h.items = append(h.items, x)
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the top element.
func (h *Heap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items)
	if n == 0 {
		return zero, false
	}
	root := h.items[0]
	h.items[0] = h.items[n-1]
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return root, true
}

// UpdateTop replaces the top element with x and restores the heap order.
func (h *Heap[T]) UpdateTop(x T) {
	h.items[0] = x
	h.siftDown(0)
}

// Reset clears the heap for reuse.
func (h *Heap[T]) Reset() {
	clear(h.items)
	h.items = h.items[:0]
}

func (h *Heap[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *Heap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.less(h.items[r], h.items[l]) {
			best = r
		}
		if !h.less(h.items[best], h.items[i]) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

// TopK retains the k best elements offered to it.
type TopK[T any] struct {
	k      int
	better func(a, b T) bool
	h      *Heap[T]
}

// NewTopK creates a collector for the k best elements according to better.
func NewTopK[T any](k int, better func(a, b T) bool) *TopK[T] {
	worse := func(a, b T) bool { return better(b, a) }
	return &TopK[T]{k: k, better: better, h: New(k, worse)}
}

// Offer adds x when fewer than k elements are held or x beats the worst.
func (t *TopK[T]) Offer(x T) bool {
	if t.k <= 0 {
		return false
	}
	if t.h.Len() < t.k {
		t.h.Push(x)
		return true
	}
	worst, _ := t.h.Top()
	if !t.better(x, worst) {
		return false
	}
	t.h.UpdateTop(x)
	return true
}

// Worst returns the worst retained element once k elements are held.
func (t *TopK[T]) Worst() (T, bool) {
	if t.h.Len() < t.k {
		var zero T
		return zero, false
	}
	return t.h.Top()
}

// Len returns the number of retained elements.
func (t *TopK[T]) Len() int { return t.h.Len() }

// Drain empties the collector and returns its elements best first.
func (t *TopK[T]) Drain() []T {
	out := make([]T, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = t.h.Pop()
	}
	return out
}
