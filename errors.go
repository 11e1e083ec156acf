package cuttrack

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("cuttrack: no store configured")
	ErrStoreClosed     = errors.New("cuttrack: store closed")
	ErrMigrationFailed = errors.New("cuttrack: migration failed")

	// ErrNotFound is the parent of every not-found error. Match it with
	// errors.Is to handle any missing entity uniformly.
	ErrNotFound = errors.New("cuttrack: not found")

	// Not found errors.
	ErrJobNotFound      = &notFoundError{msg: "cuttrack: job not found"}
	ErrMaterialNotFound = &notFoundError{msg: "cuttrack: material not found"}
	ErrRecutNotFound    = &notFoundError{msg: "cuttrack: recut not found"}

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("cuttrack: job already exists")
	ErrConcurrencyConflict = errors.New("cuttrack: concurrent modification")

	// State errors.
	ErrInvalidTransition = errors.New("cuttrack: invalid state transition")

	// Input errors.
	ErrValidation = errors.New("cuttrack: validation failed")
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

// Is lets errors.Is(err, ErrNotFound) match every specific not-found error.
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is any not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
