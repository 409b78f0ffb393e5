package nativecache

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/knnquery/native"
)

// closedRefs marks a slot whose index has been released.
const closedRefs = -1

type slot struct {
	mu    sync.RWMutex
	refs  atomic.Int64
	gen   atomic.Uint64
	index native.Index
	key   Key
	size  int64
}

// arena owns the slots. Slots are recycled through a free list; their
// generation distinguishes successive occupants.
type arena struct {
	mu    sync.RWMutex
	slots []*slot
	free  []uint32
}

func (a *arena) alloc(key Key, idx native.Index, size int64) (uint32, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		id uint32
		s  *slot
	)
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
		s = a.slots[id]
	} else {
		id = uint32(len(a.slots))
		s = &slot{}
		s.gen.Store(1)
		a.slots = append(a.slots, s)
	}
	s.mu.Lock()
	s.key, s.index, s.size = key, idx, size
	s.refs.Store(0)
	gen := s.gen.Load()
	s.mu.Unlock()
	return id, gen
}

func (a *arena) get(id uint32) *slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots[id]
}

// release closes the index held by slot id. It blocks until readers holding
// the slot's lock are gone and the reference count has drained.
func (a *arena) release(id uint32) (native.Index, error) {
	s := a.get(id)

	s.mu.Lock()
	for !s.refs.CompareAndSwap(0, closedRefs) {
		// a reader incremented without holding the lock
		s.mu.Unlock()
		runtime.Gosched()
		s.mu.Lock()
	}
	idx := s.index
	s.index = nil
	s.gen.Add(1)
	s.mu.Unlock()

	var err error
	if idx != nil {
		err = idx.Close()
	}

	a.mu.Lock()
	a.free = append(a.free, id)
	a.mu.Unlock()
	return idx, err
}

// Handle is a token for a cached native index. The zero value is invalid.
type Handle struct {
	s    *slot
	gen  uint64
	key  Key
	size int64
}

// Key returns the cache key the handle was acquired for.
func (h *Handle) Key() Key { return h.key }

// RLock takes the slot's read lock. Eviction of the slot waits until it is
// released.
func (h *Handle) RLock() { h.s.mu.RLock() }

// RUnlock releases the read lock.
func (h *Handle) RUnlock() { h.s.mu.RUnlock() }

// IncRef increments the reference count. It fails when the index has been
// closed or the token is stale.
func (h *Handle) IncRef() bool {
	for {
		r := h.s.refs.Load()
		if r == closedRefs || h.s.gen.Load() != h.gen {
			return false
		}
		if h.s.refs.CompareAndSwap(r, r+1) {
			if h.s.gen.Load() != h.gen {
				// slot was recycled between the checks
				h.s.refs.Add(-1)
				return false
			}
			return true
		}
	}
}

// DecRef decrements the reference count.
func (h *Handle) DecRef() { h.s.refs.Add(-1) }

// IsClosed reports whether the index behind the token has been released.
func (h *Handle) IsClosed() bool {
	return h.s.gen.Load() != h.gen || h.s.refs.Load() == closedRefs
}

// Index returns the native index, or nil when the handle is closed.
// Callers must hold the read lock and a reference.
func (h *Handle) Index() native.Index {
	if h.IsClosed() {
		return nil
	}
	return h.s.index
}

// SizeBytes returns the memory accounted for the index.
func (h *Handle) SizeBytes() int64 { return h.size }
