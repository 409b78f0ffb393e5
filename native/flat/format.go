package flat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/knnquery/distance"
	"github.com/hupe1980/knnquery/model"
)

const (
	magic      = "KNNF"
	version    = 1
	headerSize = 16
	footerSize = 8
)

// ErrCorrupt is returned when an engine file fails validation.
var ErrCorrupt = errors.New("flat: corrupt engine file")

type header struct {
	dataType model.VectorDataType
	space    distance.SpaceType
	dim      int
	count    int
}

func (h header) codeSize() int {
	switch h.dataType {
	case model.VectorDataTypeBinary:
		return (h.dim + 7) / 8
	case model.VectorDataTypeByte:
		return h.dim
	default:
		return h.dim * 4
	}
}

// EncodeFloat builds an engine file over float vectors.
func EncodeFloat(space distance.SpaceType, docs []model.DocID, vectors [][]float32) ([]byte, error) {
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("%w: %d docs for %d vectors", model.ErrInvalidArgument, len(docs), len(vectors))
	}
	if space == distance.SpaceHamming {
		return nil, fmt.Errorf("%w: hamming space requires binary vectors", model.ErrInvalidArgument)
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	codes := make([][]byte, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", model.ErrInvalidArgument, i, len(v), dim)
		}
		b := make([]byte, 4*dim)
		for j, x := range v {
			binary.LittleEndian.PutUint32(b[4*j:], math.Float32bits(x))
		}
		codes[i] = b
	}
	return encode(header{dataType: model.VectorDataTypeFloat, space: space, dim: dim, count: len(docs)}, docs, codes)
}

// EncodeBytes builds an engine file over signed byte vectors or, for
// model.VectorDataTypeBinary, over packed bit codes of dim bits each.
func EncodeBytes(dataType model.VectorDataType, space distance.SpaceType, dim int, docs []model.DocID, vectors [][]byte) ([]byte, error) {
	if dataType == model.VectorDataTypeFloat {
		return nil, fmt.Errorf("%w: use EncodeFloat for float vectors", model.ErrInvalidArgument)
	}
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("%w: %d docs for %d vectors", model.ErrInvalidArgument, len(docs), len(vectors))
	}
	if dataType == model.VectorDataTypeByte && space == distance.SpaceHamming {
		return nil, fmt.Errorf("%w: hamming space requires binary vectors", model.ErrInvalidArgument)
	}
	h := header{dataType: dataType, space: space, dim: dim, count: len(docs)}
	for i, v := range vectors {
		if len(v) != h.codeSize() {
			return nil, fmt.Errorf("%w: vector %d has %d bytes, want %d", model.ErrInvalidArgument, i, len(v), h.codeSize())
		}
	}
	return encode(h, docs, vectors)
}

func encode(h header, docs []model.DocID, codes [][]byte) ([]byte, error) {
	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return docs[order[a]] < docs[order[b]] })
	for i := 1; i < len(order); i++ {
		if docs[order[i]] == docs[order[i-1]] {
			return nil, fmt.Errorf("%w: duplicate doc %d", model.ErrInvalidArgument, docs[order[i]])
		}
	}

	size := h.codeSize()
	buf := make([]byte, headerSize, headerSize+4*len(docs)+size*len(docs)+footerSize)
	copy(buf, magic)
	buf[4] = version
	buf[5] = byte(h.dataType)
	buf[6] = byte(h.space)
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.dim))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.count))

	for _, i := range order {
		if docs[i] < 0 {
			return nil, fmt.Errorf("%w: negative doc %d", model.ErrInvalidArgument, docs[i])
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(docs[i]))
	}
	for _, i := range order {
		buf = append(buf, codes[i]...)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf)), nil
}

func decodeHeader(data []byte) (header, error) {
	if len(data) < headerSize+footerSize {
		return header{}, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	if string(data[:4]) != magic {
		return header{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if data[4] != version {
		return header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	h := header{
		dataType: model.VectorDataType(data[5]),
		space:    distance.SpaceType(data[6]),
		dim:      int(binary.LittleEndian.Uint32(data[8:])),
		count:    int(binary.LittleEndian.Uint32(data[12:])),
	}
	if h.dataType > model.VectorDataTypeBinary || h.space > distance.SpaceHamming {
		return header{}, fmt.Errorf("%w: data type %d space %d", ErrCorrupt, data[5], data[6])
	}
	want := headerSize + h.count*(4+h.codeSize()) + footerSize
	if len(data) != want {
		return header{}, fmt.Errorf("%w: size %d, want %d", ErrCorrupt, len(data), want)
	}
	body := data[:len(data)-footerSize]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(data[len(body):]) {
		return header{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return h, nil
}
