// Package nativecache holds loaded native indexes in memory.
//
// # Handles
//
// Acquire returns a Handle: a token (slot index, generation) into an arena of
// slots. Each slot carries a read/write lock and a reference count. Readers
// hold the read lock and an incremented reference count for the whole
// duration of a native call:
//
//	h, err := cache.Acquire(ctx, key)
//	h.RLock()
//	defer h.RUnlock()
//	if !h.IncRef() {
//		return model.ErrIndexEvicted
//	}
//	defer h.DecRef()
//
// Eviction takes the slot's write lock, waits for the reference count to
// drain, closes the index and bumps the generation. Tokens minted before the
// eviction are stale from then on: IncRef fails and IsClosed reports true.
//
// # Eviction
//
// Entries live in sharded LRU lists. Admission is bounded by the cache
// capacity and by the resource controller's memory limit; when either would
// be exceeded the least recently used entries are evicted until the new
// index fits, or ErrMemoryLimitExceeded is returned.
package nativecache
