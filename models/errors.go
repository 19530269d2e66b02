package models

import "errors"

var (
	// ErrValidation marks bad input shape or range; surfaced as a form error.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced user or device id that is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvariant marks an operation that would corrupt state; rejected before any write.
	ErrInvariant = errors.New("invariant violation")
)
