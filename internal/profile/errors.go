package profile

import "errors"

var (
	// ErrProfileNotFound is returned when no profile has the given name.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrProfileCollision is returned when creating a profile whose name
	// is already taken.
	ErrProfileCollision = errors.New("profile already exists")

	// ErrConfirmationRequired is returned when deleting a profile would
	// lose data and the caller has not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")
)
