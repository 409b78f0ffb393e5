package statestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/knnquery/quantization"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec used for serialized states.
type Compression byte

const (
	// CompressionNone stores the state as is.
	CompressionNone Compression = 'n'
	// CompressionZstd compresses with zstd.
	CompressionZstd Compression = 'z'
	// CompressionLZ4 compresses with lz4 block compression.
	CompressionLZ4 Compression = 'l'
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", byte(c))
	}
}

// ParseCompression parses "none", "zstd" or "lz4".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

var errCorrupt = errors.New("statestore: corrupt state payload")

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Encode serializes st and compresses it.
// Format: [codec:u8][rawLen:u32][payload].
func Encode(st *quantization.State, c Compression) ([]byte, error) {
	raw, err := st.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 5, 5+len(raw))
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(raw)))

	switch c {
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		out[0] = byte(CompressionZstd)
		return enc.EncodeAll(raw, out), nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		var comp lz4.Compressor
		n, err := comp.CompressBlock(raw, buf)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[0] = byte(CompressionLZ4)
			return append(out, buf[:n]...), nil
		}
		// Incompressible input is stored raw.
	}
	out[0] = byte(CompressionNone)
	return append(out, raw...), nil
}

// Decode decompresses and deserializes a payload written by Encode.
func Decode(data []byte) (*quantization.State, error) {
	if len(data) < 5 {
		return nil, errCorrupt
	}
	rawLen := int(binary.LittleEndian.Uint32(data[1:5]))
	payload := data[5:]

	var raw []byte
	switch Compression(data[0]) {
	case CompressionNone:
		raw = payload
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		raw, err = dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
	case CompressionLZ4:
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		raw = raw[:n]
	default:
		return nil, errCorrupt
	}
	if len(raw) != rawLen {
		return nil, errCorrupt
	}

	st := new(quantization.State)
	if err := st.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return st, nil
}
