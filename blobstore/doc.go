// Package blobstore provides storage access for native engine files and
// serialized quantization state.
//
// BlobStore is the interface for reading and writing immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap support
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with range reads
//   - minio.Store: MinIO and other S3-compatible services
//
// Blobs that can expose their contents without copying implement Mappable;
// ReadAll uses it when available.
package blobstore
