package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a request rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a business-rule conflict with current state.
	ErrConflict = errors.New("conflict with current state")
)
