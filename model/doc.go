// Package model defines the core types shared by the query engine.
//
// # Identity Types
//
//   - DocID: segment-local document number (int32), NoMoreDocs terminates iteration
//   - SegmentID: unique identifier for a segment within a shard
//
// # Result Types
//
//   - ScoredDoc: a (doc, score) pair, higher score is a closer match
//   - TopDocs: an ordered result list with its total hit count
//   - SearchMode: whether a leaf was answered approximately or exactly
//
// # Vector Types
//
//   - VectorDataType: FLOAT, BYTE or BINARY field encoding
package model
