// Package flat implements a pure-Go brute-force native engine.
//
// Engine files hold a small header, the sorted document ids, and the stored
// vectors in one of three encodings: float32, signed bytes, or packed bits.
// A binary file whose space is not Hamming holds one-bit quantized codes of a
// float field; it answers float queries with asymmetric distance and bit
// queries with Hamming distance.
//
// Distances returned by the engine are raw (lower is closer), matching the
// contract of package native.
package flat
