// Package ann invokes native approximate nearest neighbor indexes.
//
// An Invoker resolves the engine file of a field, acquires its index from
// the native cache and runs one k-NN, binary or radius search while holding
// the handle's read lock and a reference. Raw engine distances are turned
// into scores before they are returned.
package ann
