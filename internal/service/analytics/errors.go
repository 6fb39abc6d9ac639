package analytics

import "errors"

// Sentinel errors for the analytics service layer.
var (
	ErrMissingHash  = errors.New("analytics: hash is required")
	ErrInvalidEvent = errors.New("analytics: invalid event kind")
	ErrInvalidCount = errors.New("analytics: count must not be negative")
)
