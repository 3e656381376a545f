package formulas

import "errors"

// Store-level error kinds. Implementations wrap these with context; callers
// test with errors.Is.
var (
	// ErrNotFound is returned when a formula id or scope has no config
	ErrNotFound = errors.New("formula not found")

	// ErrActivationConflict means more than one config is active in a single scope
	ErrActivationConflict = errors.New("activation conflict")

	// ErrInvalidScope is returned for malformed scope identifiers
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidFormula is returned when a definition fails validation
	ErrInvalidFormula = errors.New("invalid formula")
)
