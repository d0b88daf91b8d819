package domain

import "errors"

var (
	// ErrInvalidActivity is returned for activity input that fails validation.
	ErrInvalidActivity = errors.New("invalid activity")
	// ErrInvalidQuery is returned for malformed listing parameters.
	ErrInvalidQuery = errors.New("invalid query")
)
