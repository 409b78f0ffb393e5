package knnquery

import (
	"errors"
	"fmt"

	"github.com/hupe1980/knnquery/internal/weight"
	"github.com/hupe1980/knnquery/model"
)

var (
	// ErrInvalidArgument is returned when a query fails validation.
	ErrInvalidArgument = model.ErrInvalidArgument
	// ErrNotFound is returned when a blob or quantization state is missing.
	ErrNotFound = model.ErrNotFound
	// ErrIndexEvicted is returned when a native index was evicted between
	// acquisition and use. The query may be retried.
	ErrIndexEvicted = model.ErrIndexEvicted
	// ErrIndexClosed is returned when an acquired native index is closed.
	ErrIndexClosed = model.ErrIndexClosed
	// ErrMemoryLimitExceeded is returned when the native cache cannot admit an index.
	ErrMemoryLimitExceeded = model.ErrMemoryLimitExceeded
	// ErrUnsupported is returned when the engine lacks radius or binary support.
	ErrUnsupported = model.ErrUnsupported

	// ErrInvalidK is returned when k is not positive and no radius is set.
	ErrInvalidK = fmt.Errorf("%w: k must be positive", ErrInvalidArgument)
)

// ErrDimensionMismatch indicates a query/field dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error {
	if e.cause == nil {
		return ErrInvalidArgument
	}
	return e.cause
}

// SearchError is a failure of one leaf, carrying the field, segment and
// operation that failed.
type SearchError struct {
	Field   string
	Segment string
	Op      string
	cause   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("knn %s failed for field %q in segment %s: %v", e.Op, e.Field, e.Segment, e.cause)
}

func (e *SearchError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var se *SearchError
	if errors.As(err, &se) {
		return err
	}
	var le *weight.Error
	if errors.As(err, &le) {
		return &SearchError{Field: le.Field, Segment: le.Segment, Op: le.Op, cause: le.Err}
	}
	return err
}
