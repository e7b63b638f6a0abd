package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrInvalidOp indicates an unsupported update operation.
	ErrInvalidOp = errors.New("storage: invalid update operation")

	// ErrNotObject indicates an update was attempted on a non-object value.
	ErrNotObject = errors.New("storage: stored value is not a JSON object")
)
