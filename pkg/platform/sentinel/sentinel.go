// Package sentinel holds the infrastructure facts stores report back to services.
//
// Stores return these (optionally wrapped); services translate them into coded
// domain errors. They describe resource state, never input validity.
package sentinel

import "errors"

var (
	// ErrNotFound: the key does not exist, or existed and has expired.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a compare-and-set lost, e.g. a password was already set.
	ErrConflict = errors.New("conflict")
	// ErrExpired: the record exists but is past its deadline.
	ErrExpired = errors.New("expired")
	// ErrInvalidState: the record is in the wrong state for the requested transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing service could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
