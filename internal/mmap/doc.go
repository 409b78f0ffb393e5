// Package mmap provides read-only memory-mapped file access.
//
// Native engine files are mapped rather than read so that loading an index
// from local disk does not copy its bytes through the Go heap:
//
//	m, err := mmap.Open("_0_vec.flat")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//	_ = m.Advise(mmap.AccessWillNeed)
//
// On Unix the mapping uses mmap(2) and madvise(2). Other platforms fall back
// to reading the file into memory.
//
// Close is idempotent. Callers must ensure no goroutine touches Bytes() after
// Close returns.
package mmap
