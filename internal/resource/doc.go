// Package resource governs the memory and IO spent on loading native indexes.
//
// The Controller manages three resources:
//
//   - Memory: admission of loaded index bytes (non-blocking, fail-fast)
//   - Loads: the number of concurrent cold loads (blocking)
//   - IO: a token bucket over bytes read from engine files
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for the hard limit and an atomic
// counter for usage. AcquireMemory never blocks; it fails with an error
// wrapping model.ErrMemoryLimitExceeded so that the cache can evict and retry:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	    IOLimitBytesPerSec: 256 << 20,
//	})
//	if err := rc.AcquireMemory(size); err != nil { ... }
//	defer rc.ReleaseMemory(size)
//
// # Nil Safety
//
// All methods are safe to call on a nil *Controller, which imposes no limits.
package resource
