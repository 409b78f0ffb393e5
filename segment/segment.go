package segment

import (
	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
)

// FieldInfo describes a vector field within a segment.
type FieldInfo struct {
	Name      string
	Dimension int
	DataType  model.VectorDataType
	Space     distance.SpaceType
	// Engine names the native engine that built the field's index files.
	Engine string
}

// CodeSize returns the stored size in bytes of one vector of the field.
func (fi FieldInfo) CodeSize() int {
	switch fi.DataType {
	case model.VectorDataTypeBinary:
		return (fi.Dimension + 7) / 8
	case model.VectorDataTypeByte:
		return fi.Dimension
	default:
		return fi.Dimension * 4
	}
}

// FloatVectorValues gives random access to the float vectors of a field.
type FloatVectorValues interface {
	Dimension() int
	// Len returns the number of documents with a vector.
	Len() int
	// Iterator walks the documents that have a vector.
	Iterator() model.DocIterator
	// Vector returns the vector of doc. The slice must not be modified.
	Vector(doc model.DocID) ([]float32, error)
}

// ByteVectorValues gives random access to byte, binary or quantized vectors.
type ByteVectorValues interface {
	Dimension() int
	Len() int
	Iterator() model.DocIterator
	Vector(doc model.DocID) ([]byte, error)
}

// Leaf is one segment of a shard as seen by a single query.
type Leaf interface {
	ID() model.SegmentID
	Name() string
	// DocBase is the offset of the leaf's first document in the shard.
	DocBase() int
	MaxDoc() int
	// LiveDocs returns nil when the segment has no deletions.
	LiveDocs() model.Bits
	FieldInfo(field string) (FieldInfo, bool)
	FloatVectors(field string) (FloatVectorValues, error)
	ByteVectors(field string) (ByteVectorValues, error)
	// QuantizedVectors returns the quantized codes of a float field,
	// or nil when the field is not quantized.
	QuantizedVectors(field string) (ByteVectorValues, error)
	// EngineFiles returns the native index files built for the field.
	EngineFiles(field string) []string
}

// BitSet is a document set with ordered navigation.
type BitSet interface {
	model.Bits
	Cardinality() int
	NextSetBit(from int) model.DocID
	PrevSetBit(from int) model.DocID
}

// Filter produces the documents of a leaf matching an attribute filter.
type Filter interface {
	// Iterator returns the matching documents, or nil when none match.
	Iterator(leaf Leaf) (model.DocIterator, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(leaf Leaf) (model.DocIterator, error)

// Iterator implements Filter.
func (f FilterFunc) Iterator(leaf Leaf) (model.DocIterator, error) { return f(leaf) }

// ParentsFilter produces the parent documents of a nested field.
type ParentsFilter interface {
	Parents(leaf Leaf) (BitSet, error)
}

// ParentsFunc adapts a function to ParentsFilter.
type ParentsFunc func(leaf Leaf) (BitSet, error)

// Parents implements ParentsFilter.
func (f ParentsFunc) Parents(leaf Leaf) (BitSet, error) { return f(leaf) }
