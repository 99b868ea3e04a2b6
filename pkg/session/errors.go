package session

import "errors"

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrNotActive is returned when a mutation reaches a session that is
	// terminal or past its expiry.
	ErrNotActive = errors.New("session not active")

	// ErrInvalidConfig is returned when create parameters fail validation.
	ErrInvalidConfig = errors.New("invalid session config")
)
