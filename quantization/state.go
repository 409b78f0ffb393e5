package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/knnquery/model"
)

// ErrStateNotFound is returned by a StateStore when a segment field has no
// quantization state.
var ErrStateNotFound = fmt.Errorf("%w: quantization state", model.ErrNotFound)

// State is the trained quantization state of one field in one segment.
type State struct {
	// Bits per dimension: 1, 2 or 4.
	Bits int
	// Thresholds holds Bits rows of per-dimension thresholds.
	Thresholds [][]float32
	// Rotation is an optional dimension x dimension matrix applied before
	// quantization.
	Rotation [][]float32
	// BelowMeans and AboveMeans are the per-dimension means of the values
	// quantized to 0 and 1. Both are set only for one-bit ADC state.
	BelowMeans []float32
	AboveMeans []float32
}

// NewOneBitState creates one-bit state from per-dimension thresholds.
func NewOneBitState(thresholds []float32) *State {
	return &State{Bits: 1, Thresholds: [][]float32{thresholds}}
}

// NewMultiBitState creates multi-bit state with one threshold row per bit.
func NewMultiBitState(thresholds [][]float32) *State {
	return &State{Bits: len(thresholds), Thresholds: thresholds}
}

// WithRotation sets the rotation matrix and returns s.
func (s *State) WithRotation(m [][]float32) *State {
	s.Rotation = m
	return s
}

// WithADC sets the below/above threshold means and returns s.
func (s *State) WithADC(below, above []float32) *State {
	s.BelowMeans = below
	s.AboveMeans = above
	return s
}

// Dimension returns the number of dimensions of the quantized field.
func (s *State) Dimension() int {
	if len(s.Thresholds) == 0 {
		return 0
	}
	return len(s.Thresholds[0])
}

// CodeSize returns the size in bytes of one quantized vector.
func (s *State) CodeSize() int {
	return (s.Bits*s.Dimension() + 7) / 8
}

// ADC reports whether the state supports asymmetric distance computation.
func (s *State) ADC() bool {
	return s.Bits == 1 && s.BelowMeans != nil && s.AboveMeans != nil
}

// Validate checks the state for internal consistency.
func (s *State) Validate() error {
	switch s.Bits {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: unsupported bit width %d", model.ErrInvalidArgument, s.Bits)
	}
	if len(s.Thresholds) != s.Bits {
		return fmt.Errorf("%w: %d threshold rows for %d bits", model.ErrInvalidArgument, len(s.Thresholds), s.Bits)
	}
	dim := s.Dimension()
	if dim == 0 {
		return fmt.Errorf("%w: empty thresholds", model.ErrInvalidArgument)
	}
	for _, row := range s.Thresholds {
		if len(row) != dim {
			return fmt.Errorf("%w: ragged thresholds", model.ErrInvalidArgument)
		}
	}
	if s.Rotation != nil {
		if len(s.Rotation) != dim {
			return fmt.Errorf("%w: rotation has %d rows, want %d", model.ErrInvalidArgument, len(s.Rotation), dim)
		}
		for _, row := range s.Rotation {
			if len(row) != dim {
				return fmt.Errorf("%w: rotation must be square", model.ErrInvalidArgument)
			}
		}
	}
	if (s.BelowMeans == nil) != (s.AboveMeans == nil) {
		return fmt.Errorf("%w: ADC needs both below and above means", model.ErrInvalidArgument)
	}
	if s.BelowMeans != nil {
		if s.Bits != 1 {
			return fmt.Errorf("%w: ADC is only supported for one-bit state", model.ErrInvalidArgument)
		}
		if len(s.BelowMeans) != dim || len(s.AboveMeans) != dim {
			return fmt.Errorf("%w: ADC means must have %d dimensions", model.ErrInvalidArgument, dim)
		}
		for i, below := range s.BelowMeans {
			// also rejects NaN means
			if !(s.AboveMeans[i] > below) || math.IsInf(float64(s.AboveMeans[i]-below), 0) {
				return fmt.Errorf("%w: ADC above mean %v must exceed below mean %v in dimension %d",
					model.ErrInvalidArgument, s.AboveMeans[i], below, i)
			}
		}
	}
	return nil
}

const (
	stateVersion = 1

	flagRotation = 1 << 0
	flagADC      = 1 << 1
)

var errCorruptState = errors.New("corrupt quantization state")

// MarshalBinary implements encoding.BinaryMarshaler.
// Format (little-endian): [version:u8][bits:u8][flags:u8][dim:u32]
// followed by the thresholds, the rotation and the ADC means as float32.
func (s *State) MarshalBinary() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	dim := s.Dimension()
	var flags byte
	n := s.Bits * dim
	if s.Rotation != nil {
		flags |= flagRotation
		n += dim * dim
	}
	if s.ADC() {
		flags |= flagADC
		n += 2 * dim
	}
	b := make([]byte, 7, 7+4*n)
	b[0] = stateVersion
	b[1] = byte(s.Bits)
	b[2] = flags
	binary.LittleEndian.PutUint32(b[3:7], uint32(dim))

	put := func(v []float32) {
		for _, f := range v {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
	}
	for _, row := range s.Thresholds {
		put(row)
	}
	for _, row := range s.Rotation {
		put(row)
	}
	if s.ADC() {
		put(s.BelowMeans)
		put(s.AboveMeans)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *State) UnmarshalBinary(data []byte) error {
	if len(data) < 7 || data[0] != stateVersion {
		return errCorruptState
	}
	bits := int(data[1])
	flags := data[2]
	dim := int(binary.LittleEndian.Uint32(data[3:7]))
	data = data[7:]

	next := func() ([]float32, error) {
		if len(data) < 4*dim {
			return nil, errCorruptState
		}
		v := make([]float32, dim)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		data = data[4*dim:]
		return v, nil
	}

	out := State{Bits: bits}
	for i := 0; i < bits; i++ {
		row, err := next()
		if err != nil {
			return err
		}
		out.Thresholds = append(out.Thresholds, row)
	}
	if flags&flagRotation != 0 {
		for i := 0; i < dim; i++ {
			row, err := next()
			if err != nil {
				return err
			}
			out.Rotation = append(out.Rotation, row)
		}
	}
	if flags&flagADC != 0 {
		var err error
		if out.BelowMeans, err = next(); err != nil {
			return err
		}
		if out.AboveMeans, err = next(); err != nil {
			return err
		}
	}
	if len(data) != 0 {
		return errCorruptState
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}
