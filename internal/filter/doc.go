// Package filter converts a leaf's filter bitset into the representation
// handed to a native engine: either the dense bitmap words or a sorted batch
// of document ids.
//
// Array storage costs O(c) memory and O(log c) lookups; a bitmap costs
// O(maxDoc/8) memory and O(1) lookups. The batch threshold bounds the array at
// roughly 15MB (2,000,000 int64 ids) while avoiding the bitmap for small
// filters.
package filter
