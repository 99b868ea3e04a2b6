package memory

import "errors"

var (
	// ErrDimensionMismatch means the configured embedding dimension does
	// not match what the database already stores. Fatal at startup:
	// mixing dimensions silently corrupts similarity search.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidItem is returned for items missing required fields or
	// carrying an embedding of the wrong length.
	ErrInvalidItem = errors.New("invalid memory item")
)
