package models

import "errors"

// ErrNotFound is returned when a requested item is not found.
// Storage implementations wrap this error when an item doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable is returned when the analytical store cannot be reached.
var ErrStoreUnavailable = errors.New("analytics store unavailable")

// ErrInvalidInput marks caller-level validation failures.
var ErrInvalidInput = errors.New("invalid input")
