package nativecache

import (
	"container/list"
	"sync"
)

type entry struct {
	key  Key
	slot uint32
	gen  uint64
	size int64
}

// lru is one shard of the cache.
type lru struct {
	mu        sync.Mutex
	items     map[Key]*list.Element
	evictList *list.List
}

func newLRU() *lru {
	return &lru{
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// get returns the entry for key and marks it most recently used.
func (l *lru) get(key Key) (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		l.evictList.MoveToFront(el)
		return *el.Value.(*entry), true
	}
	return entry{}, false
}

func (l *lru) add(e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[e.key] = l.evictList.PushFront(&e)
}

// remove drops key from the shard.
func (l *lru) remove(key Key) (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return entry{}, false
	}
	return l.removeElement(el), true
}

// oldest removes and returns the least recently used entry.
func (l *lru) oldest() (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el := l.evictList.Back()
	if el == nil {
		return entry{}, false
	}
	return l.removeElement(el), true
}

// removeIf removes every entry whose key matches the predicate.
func (l *lru) removeIf(predicate func(Key) bool) []entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []entry
	for key, el := range l.items {
		if predicate(key) {
			out = append(out, l.removeElement(el))
		}
	}
	return out
}

func (l *lru) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictList.Len()
}

func (l *lru) removeElement(el *list.Element) entry {
	l.evictList.Remove(el)
	e := el.Value.(*entry)
	delete(l.items, e.key)
	return *e
}
