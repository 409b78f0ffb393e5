// Package weight routes a vector query over one leaf to the native ANN
// index or to exact search.
//
// A leaf moves through the states
//
//	Init -> FilterEvaluated -> {ExactOnly | AnnAttempted} -> {AnnAccepted | ExactFallback} -> Done
//
// The filter bitset of the leaf is evaluated first, intersected with live
// documents. Small filtered candidate sets are scored exactly. Otherwise
// the native index is searched with the filter, and exact search repairs
// results when the index is missing or returned fewer than k filtered hits.
package weight
