package native

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
)

// Engine loads native indexes from engine files.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Name identifies the engine, matching segment.FieldInfo.Engine.
	Name() string
	// Load builds an Index from the full contents of an engine file.
	// The Index must not retain data after Load returns.
	Load(name string, data []byte) (Index, error)
	// SupportsRadius reports whether indexes answer RadiusSearch.
	SupportsRadius() bool
}

// Request is a single native search.
type Request struct {
	// Vector is the float query for Search and RadiusSearch.
	Vector []float32
	// Code is the packed bit query for SearchBinary.
	Code []byte
	// K is the number of results for Search and SearchBinary.
	K int
	// Radius is the maximum raw distance for RadiusSearch.
	Radius float32
	// MaxResults bounds the number of radius results.
	MaxResults int
	// Filter restricts the searched documents. Nil searches all documents.
	Filter *Filter
	// ParentIDs, sorted ascending, group children by the next parent id
	// at or above them; at most one child per parent is returned.
	ParentIDs []int32
	// MethodParams carries engine-specific tuning, e.g. {"ef_search":100}.
	MethodParams json.RawMessage
	// Space is the field's space type. Engines whose files do not record
	// it use Space to convert similarities into raw distances.
	Space distance.SpaceType
}

// Result is a document with its raw distance (lower is closer).
type Result struct {
	Doc      model.DocID
	Distance float32
}

// Index is a loaded native index. Indexes are shared by concurrent readers;
// Close is called once by the owning cache after all readers are gone.
type Index interface {
	// Search runs a float k-NN search.
	Search(ctx context.Context, req *Request) ([]Result, error)
	// SearchBinary runs a Hamming k-NN search with a packed bit query.
	SearchBinary(ctx context.Context, req *Request) ([]Result, error)
	// RadiusSearch returns up to MaxResults documents within Radius.
	RadiusSearch(ctx context.Context, req *Request) ([]Result, error)
	// SizeBytes returns the memory held by the index.
	SizeBytes() int64
	Close() error
}

// Unsupported returns an error wrapping model.ErrUnsupported.
func Unsupported(engine, op string) error {
	return fmt.Errorf("%w: engine %s does not support %s", model.ErrUnsupported, engine, op)
}

// ParentOf returns the parent of child: the first entry of parents that is
// >= child, or -1 when child has no parent.
func ParentOf(parents []int32, child model.DocID) int32 {
	lo, hi := 0, len(parents)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if parents[mid] < int32(child) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(parents) {
		return -1
	}
	return parents[lo]
}
