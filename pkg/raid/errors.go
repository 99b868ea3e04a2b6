package raid

import "errors"

var (
	// ErrNotFound is returned when no raid exists for the given id.
	ErrNotFound = errors.New("raid not found")

	// ErrNotActive is returned for any mutation of a raid outside the
	// active status. Terminal statuses are absorbing.
	ErrNotActive = errors.New("raid not active")

	// ErrFull is returned by Join when the participant cap is reached.
	ErrFull = errors.New("raid is full")

	// ErrAlreadyJoined is returned by Join for a duplicate participant.
	ErrAlreadyJoined = errors.New("participant already joined")

	// ErrIdentityMissing is returned by Join when required platform
	// identity fields are absent.
	ErrIdentityMissing = errors.New("platform identity missing")

	// ErrUnknownObjective is returned when an action's objective type
	// matches none of the raid's declared objectives.
	ErrUnknownObjective = errors.New("objective type not declared for raid")

	// ErrActionNotFound is returned when verification targets an unknown
	// action id.
	ErrActionNotFound = errors.New("action not found")

	// ErrInvalidParams is returned when raid creation parameters fail
	// validation.
	ErrInvalidParams = errors.New("invalid raid params")
)
