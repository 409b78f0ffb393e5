package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap(t *testing.T) {
	h := New(4, func(a, b int) bool { return a < b })
	for _, x := range []int{5, 1, 4, 2, 3} {
		h.Push(x)
	}
	top, ok := h.Top()
	require.True(t, ok)
	assert.Equal(t, 1, top)

	h.UpdateTop(10)
	var got []int
	for h.Len() > 0 {
		x, _ := h.Pop()
		got = append(got, x)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 10}, got)

	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestPrefilled(t *testing.T) {
	h := Prefilled(3, -1, func(a, b int) bool { return a < b })
	assert.Equal(t, 3, h.Len())
	for _, x := range []int{7, 3, 9, 1} {
		if top, _ := h.Top(); x > top {
			h.UpdateTop(x)
		}
	}
	var got []int
	for h.Len() > 0 {
		x, _ := h.Pop()
		got = append(got, x)
	}
	assert.Equal(t, []int{3, 7, 9}, got)
}

func TestTopK(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	data := r.Perm(1000)

	tk := NewTopK(10, func(a, b int) bool { return a > b })
	for _, x := range data {
		tk.Offer(x)
	}
	worst, ok := tk.Worst()
	require.True(t, ok)
	assert.Equal(t, 990, worst)

	want := append([]int(nil), data...)
	sort.Sort(sort.Reverse(sort.IntSlice(want)))
	assert.Equal(t, want[:10], tk.Drain())
	assert.Equal(t, 0, tk.Len())

	empty := NewTopK(0, func(a, b int) bool { return a > b })
	assert.False(t, empty.Offer(1))
}
