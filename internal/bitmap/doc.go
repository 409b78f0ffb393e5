// Package bitmap provides the per-leaf document bitsets used by filtered
// vector search.
//
// Two implementations sit behind the Bitset interface:
//
//   - Fixed: a dense bitset over [0, maxDoc) backed by bits-and-blooms/bitset.
//     Membership is O(1) and the raw 64-bit words can be handed to a native
//     engine without copying.
//   - Sparse: a roaring bitmap, used when a filter matches a small fraction
//     of the segment.
//
// Of picks the representation the same way a segment-level filter would:
// a small iterator cost relative to maxDoc produces a Sparse set, everything
// else a Fixed one.
package bitmap
