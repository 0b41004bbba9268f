package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict reports a state that forbids the operation (duplicate, pending work).
	ErrConflict = errors.New("conflict")
	// ErrChainRunning is returned when a chain is already locked by a run.
	ErrChainRunning = errors.New("chain already running")
	// ErrNotEligible is returned when an entity is not in a state that allows the transition.
	ErrNotEligible = errors.New("not eligible")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
)
