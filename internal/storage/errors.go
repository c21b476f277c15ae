package storage

import "errors"

var (
	// ErrNoSnapshots is returned when the store holds no snapshots at all.
	ErrNoSnapshots = errors.New("no snapshots recorded")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
