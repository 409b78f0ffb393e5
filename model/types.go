package model

import (
	"fmt"
	"math"
)

// SegmentID is the unique identifier for a segment within a shard.
type SegmentID uint64

// DocID is a segment-local document number.
// Shard-level results carry DocIDs offset by the segment's doc base.
type DocID int32

// NoMoreDocs is returned by iterators once they are exhausted.
const NoMoreDocs DocID = math.MaxInt32

// VectorDataType is the storage encoding of a vector field.
type VectorDataType uint8

const (
	// VectorDataTypeFloat stores one float32 per dimension.
	VectorDataTypeFloat VectorDataType = iota
	// VectorDataTypeByte stores one signed byte per dimension.
	VectorDataTypeByte
	// VectorDataTypeBinary stores one bit per dimension, packed MSB-first.
	VectorDataTypeBinary
)

func (t VectorDataType) String() string {
	switch t {
	case VectorDataTypeFloat:
		return "float"
	case VectorDataTypeByte:
		return "byte"
	case VectorDataTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ParseVectorDataType parses the lower-case name of a data type.
func ParseVectorDataType(s string) (VectorDataType, error) {
	switch s {
	case "float", "":
		return VectorDataTypeFloat, nil
	case "byte":
		return VectorDataTypeByte, nil
	case "binary":
		return VectorDataTypeBinary, nil
	default:
		return 0, fmt.Errorf("%w: unknown vector data type %q", ErrInvalidArgument, s)
	}
}

// SearchMode records how a leaf was answered.
type SearchMode uint8

const (
	// SearchModeNone means the leaf was short-circuited (e.g. zero filter matches).
	SearchModeNone SearchMode = iota
	// SearchModeApproximate means the native ANN index produced the result.
	SearchModeApproximate
	// SearchModeExact means brute-force scoring produced the result.
	SearchModeExact
)

func (m SearchMode) String() string {
	switch m {
	case SearchModeApproximate:
		return "approximate"
	case SearchModeExact:
		return "exact"
	default:
		return "none"
	}
}

// ScoredDoc is a document with its similarity score.
// Higher scores are closer matches regardless of the space type.
type ScoredDoc struct {
	Doc   DocID
	Score float32
}

// String returns a string representation of the ScoredDoc.
func (d ScoredDoc) String() string {
	return fmt.Sprintf("Doc(%d:%g)", d.Doc, d.Score)
}

// Better reports whether a ranks before b: higher score first, lower doc id on ties.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Doc < b.Doc
}

// TopDocs is an ordered (best first) list of scored documents.
type TopDocs struct {
	// TotalHits is the number of documents that were scored or matched.
	// It may exceed len(Docs) when results were truncated to k.
	TotalHits int
	Docs      []ScoredDoc
}

// EmptyTopDocs returns a TopDocs with no hits.
func EmptyTopDocs() TopDocs {
	return TopDocs{}
}

// Len returns the number of documents.
func (t TopDocs) Len() int { return len(t.Docs) }

// Offset returns a copy of t with every doc id shifted by base.
func (t TopDocs) Offset(base int) TopDocs {
	if base == 0 || len(t.Docs) == 0 {
		return t
	}
	out := make([]ScoredDoc, len(t.Docs))
	for i, d := range t.Docs {
		out[i] = ScoredDoc{Doc: d.Doc + DocID(base), Score: d.Score}
	}
	return TopDocs{TotalHits: t.TotalHits, Docs: out}
}

// DocIDs returns the documents of t in result order.
func (t TopDocs) DocIDs() []DocID {
	ids := make([]DocID, len(t.Docs))
	for i, d := range t.Docs {
		ids[i] = d.Doc
	}
	return ids
}
