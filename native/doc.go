// Package native defines the contract between the query engine and a native
// ANN engine.
//
// An Engine turns the bytes of an engine file into an Index. An Index answers
// k-NN, binary k-NN and radius searches restricted by an optional Filter and
// grouped by optional parent ids. Distances returned by an Index are raw
// distances where lower is closer, using the same conventions as
// distance.SpaceType.Distance (negated dot product for inner product,
// 1-cos for cosine, popcount for Hamming). The caller converts them to scores.
//
// Two engines ship with the module:
//
//   - flat: a pure-Go brute-force engine, always available
//   - faiss: a cgo wrapper around libfaiss, built with the "faiss" tag
package native
