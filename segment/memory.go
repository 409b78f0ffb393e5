package segment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/knnquery/internal/bitmap"
	"github.com/hupe1980/knnquery/model"
	"github.com/x448/float16"
)

// Memory is an in-memory Leaf. Fields are added while building; once handed
// to a searcher the segment must only be mutated through Delete.
type Memory struct {
	id      model.SegmentID
	name    string
	docBase int
	maxDoc  int

	mu     sync.RWMutex
	live   *bitmap.Fixed
	fields map[string]*memField
}

type memField struct {
	info  FieldInfo
	docs  []model.DocID
	ord   map[model.DocID]int
	flat  []float32
	half  []float16.Float16
	bytes []byte
	codes []byte
	csize int
	files []string
}

// NewMemory creates an empty in-memory segment with maxDoc documents.
func NewMemory(id model.SegmentID, name string, docBase, maxDoc int) *Memory {
	return &Memory{
		id:      id,
		name:    name,
		docBase: docBase,
		maxDoc:  maxDoc,
		fields:  make(map[string]*memField),
	}
}

func (m *Memory) newField(info FieldInfo, docs []model.DocID, n int) (*memField, error) {
	if _, ok := m.fields[info.Name]; ok {
		return nil, fmt.Errorf("%w: field %q already exists", model.ErrInvalidArgument, info.Name)
	}
	if len(docs) != n {
		return nil, fmt.Errorf("%w: %d docs for %d vectors", model.ErrInvalidArgument, len(docs), n)
	}
	if info.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", model.ErrInvalidArgument)
	}
	if err := info.Space.ValidateDataType(info.DataType); err != nil {
		return nil, err
	}
	f := &memField{info: info, ord: make(map[model.DocID]int, len(docs))}
	f.docs = append([]model.DocID(nil), docs...)
	sort.Slice(f.docs, func(i, j int) bool { return f.docs[i] < f.docs[j] })
	for i, d := range f.docs {
		if d < 0 || int(d) >= m.maxDoc {
			return nil, fmt.Errorf("%w: doc %d out of range [0,%d)", model.ErrInvalidArgument, d, m.maxDoc)
		}
		if i > 0 && f.docs[i-1] == d {
			return nil, fmt.Errorf("%w: duplicate doc %d", model.ErrInvalidArgument, d)
		}
	}
	for i, d := range docs {
		f.ord[d] = i
	}
	return f, nil
}

// AddFloatField adds a float field; vectors[i] belongs to docs[i].
func (m *Memory) AddFloatField(info FieldInfo, docs []model.DocID, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.DataType = model.VectorDataTypeFloat
	f, err := m.newField(info, docs, len(vectors))
	if err != nil {
		return err
	}
	f.flat = make([]float32, 0, len(vectors)*info.Dimension)
	for _, v := range vectors {
		if len(v) != info.Dimension {
			return fmt.Errorf("%w: vector dimension %d, field dimension %d", model.ErrInvalidArgument, len(v), info.Dimension)
		}
		f.flat = append(f.flat, v...)
	}
	m.fields[info.Name] = f
	return nil
}

// AddFloat16Field adds a float field stored at half precision.
// Vectors are widened back to float32 on read.
func (m *Memory) AddFloat16Field(info FieldInfo, docs []model.DocID, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.DataType = model.VectorDataTypeFloat
	f, err := m.newField(info, docs, len(vectors))
	if err != nil {
		return err
	}
	f.half = make([]float16.Float16, 0, len(vectors)*info.Dimension)
	for _, v := range vectors {
		if len(v) != info.Dimension {
			return fmt.Errorf("%w: vector dimension %d, field dimension %d", model.ErrInvalidArgument, len(v), info.Dimension)
		}
		for _, x := range v {
			f.half = append(f.half, float16.Fromfloat32(x))
		}
	}
	m.fields[info.Name] = f
	return nil
}

// AddByteField adds a byte or binary field. For binary fields each vector
// holds ceil(dimension/8) packed bytes.
func (m *Memory) AddByteField(info FieldInfo, docs []model.DocID, vectors [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.DataType == model.VectorDataTypeFloat {
		info.DataType = model.VectorDataTypeByte
	}
	f, err := m.newField(info, docs, len(vectors))
	if err != nil {
		return err
	}
	size := info.CodeSize()
	f.bytes = make([]byte, 0, len(vectors)*size)
	for _, v := range vectors {
		if len(v) != size {
			return fmt.Errorf("%w: vector size %d, expected %d", model.ErrInvalidArgument, len(v), size)
		}
		f.bytes = append(f.bytes, v...)
	}
	m.fields[info.Name] = f
	return nil
}

// SetQuantizedVectors attaches the quantized codes of a float field.
// codes[i] belongs to the i-th doc passed when the field was added.
func (m *Memory) SetQuantizedVectors(field string, codes [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[field]
	if !ok || f.info.DataType != model.VectorDataTypeFloat {
		return fmt.Errorf("%w: float field %q", model.ErrNotFound, field)
	}
	if len(codes) != len(f.docs) {
		return fmt.Errorf("%w: %d codes for %d docs", model.ErrInvalidArgument, len(codes), len(f.docs))
	}
	if len(codes) == 0 {
		return nil
	}
	f.csize = len(codes[0])
	f.codes = make([]byte, 0, len(codes)*f.csize)
	for _, c := range codes {
		if len(c) != f.csize {
			return fmt.Errorf("%w: quantized codes have differing sizes", model.ErrInvalidArgument)
		}
		f.codes = append(f.codes, c...)
	}
	return nil
}

// SetEngineFiles records the native index files built for a field.
func (m *Memory) SetEngineFiles(field string, files ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[field]
	if !ok {
		return fmt.Errorf("%w: field %q", model.ErrNotFound, field)
	}
	f.files = append([]string(nil), files...)
	return nil
}

// Delete marks doc as deleted. It must not run concurrently with searches.
func (m *Memory) Delete(doc model.DocID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		m.live = bitmap.NewFixed(m.maxDoc)
		for i := 0; i < m.maxDoc; i++ {
			m.live.Set(i)
		}
	}
	m.live.Clear(int(doc))
}

// ID implements Leaf.
func (m *Memory) ID() model.SegmentID { return m.id }

// Name implements Leaf.
func (m *Memory) Name() string { return m.name }

// DocBase implements Leaf.
func (m *Memory) DocBase() int { return m.docBase }

// MaxDoc implements Leaf.
func (m *Memory) MaxDoc() int { return m.maxDoc }

// LiveDocs implements Leaf.
func (m *Memory) LiveDocs() model.Bits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.live == nil {
		return nil
	}
	return m.live
}

// FieldInfo implements Leaf.
func (m *Memory) FieldInfo(field string) (FieldInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[field]
	if !ok {
		return FieldInfo{}, false
	}
	return f.info, true
}

func (m *Memory) field(name string) (*memField, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: field %q in segment %s", model.ErrNotFound, name, m.name)
	}
	return f, nil
}

// FloatVectors implements Leaf.
func (m *Memory) FloatVectors(field string) (FloatVectorValues, error) {
	f, err := m.field(field)
	if err != nil {
		return nil, err
	}
	if f.info.DataType != model.VectorDataTypeFloat {
		return nil, fmt.Errorf("%w: field %q is %v", model.ErrInvalidArgument, field, f.info.DataType)
	}
	return &floatValues{f: f}, nil
}

// ByteVectors implements Leaf.
func (m *Memory) ByteVectors(field string) (ByteVectorValues, error) {
	f, err := m.field(field)
	if err != nil {
		return nil, err
	}
	if f.info.DataType == model.VectorDataTypeFloat {
		return nil, fmt.Errorf("%w: field %q is float", model.ErrInvalidArgument, field)
	}
	return &byteValues{f: f, data: f.bytes, size: f.info.CodeSize()}, nil
}

// QuantizedVectors implements Leaf.
func (m *Memory) QuantizedVectors(field string) (ByteVectorValues, error) {
	f, err := m.field(field)
	if err != nil {
		return nil, err
	}
	if f.codes == nil {
		return nil, nil
	}
	return &byteValues{f: f, data: f.codes, size: f.csize}, nil
}

// EngineFiles implements Leaf.
func (m *Memory) EngineFiles(field string) []string {
	f, err := m.field(field)
	if err != nil {
		return nil
	}
	return f.files
}

type floatValues struct {
	f *memField
}

func (v *floatValues) Dimension() int { return v.f.info.Dimension }

func (v *floatValues) Len() int { return len(v.f.docs) }

func (v *floatValues) Iterator() model.DocIterator { return model.NewSliceIterator(v.f.docs) }

func (v *floatValues) Vector(doc model.DocID) ([]float32, error) {
	i, ok := v.f.ord[doc]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for doc %d", model.ErrNotFound, doc)
	}
	dim := v.f.info.Dimension
	if v.f.half != nil {
		out := make([]float32, dim)
		for j, h := range v.f.half[i*dim : (i+1)*dim] {
			out[j] = h.Float32()
		}
		return out, nil
	}
	return v.f.flat[i*dim : (i+1)*dim : (i+1)*dim], nil
}

type byteValues struct {
	f    *memField
	data []byte
	size int
}

func (v *byteValues) Dimension() int { return v.f.info.Dimension }

func (v *byteValues) Len() int { return len(v.f.docs) }

func (v *byteValues) Iterator() model.DocIterator { return model.NewSliceIterator(v.f.docs) }

func (v *byteValues) Vector(doc model.DocID) ([]byte, error) {
	i, ok := v.f.ord[doc]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for doc %d", model.ErrNotFound, doc)
	}
	return v.data[i*v.size : (i+1)*v.size : (i+1)*v.size], nil
}
