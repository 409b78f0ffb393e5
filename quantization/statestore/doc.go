// Package statestore provides quantization.StateStore implementations.
//
//   - Memory keeps states in a map, for tests and embedded use.
//   - Blob reads states from a blobstore.BlobStore, compressed with zstd or lz4.
//   - DynamoDB reads states from a DynamoDB table keyed by segment and field.
//
// All stores return an error wrapping quantization.ErrStateNotFound when a
// field has no state, which quantization.Resolve treats as "not quantized".
package statestore
