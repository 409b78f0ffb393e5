package model

import "errors"

var (
	// ErrInvalidArgument is returned when a query or configuration value is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a requested blob, field or state does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIndexEvicted is returned when a native index was evicted between
	// acquisition and reference-count increment. The query may be retried.
	ErrIndexEvicted = errors.New("native index evicted during search")

	// ErrIndexClosed is returned when an acquired native index is already closed.
	ErrIndexClosed = errors.New("native index has already been closed")

	// ErrUnsupported is returned when an engine cannot serve the requested operation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrMemoryLimitExceeded is returned when a native index cannot be admitted
	// without exceeding the configured memory limit.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
)
