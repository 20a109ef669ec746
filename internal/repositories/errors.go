package repositories

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("repositories: not found")
	// ErrConflict is returned when a conditional update matched the row but
	// its state guard rejected the write.
	ErrConflict = errors.New("repositories: state conflict")
)
