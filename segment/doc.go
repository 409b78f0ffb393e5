// Package segment defines the leaf (segment) contract the query engine reads
// from, and ships an in-memory implementation.
//
// A Leaf exposes, per vector field:
//
//   - FieldInfo: dimension, data type, space type and engine
//   - random access vector values plus an iterator over docs with a vector
//   - the quantized codes of a float field, when the field is quantized
//   - the names of the native engine files built for the field
//
// Filters and parent filters are evaluated per leaf. A Filter yields an
// iterator of matching documents; a ParentsFilter yields the bitset of parent
// documents for nested (block-join) fields, where the children of a parent
// always precede it.
package segment
