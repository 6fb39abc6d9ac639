package delivery

import "errors"

// Sentinel errors for the delivery service layer.
var (
	ErrNotFound = errors.New("not found")
)
