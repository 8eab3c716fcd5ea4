package models

import dErrors "govsign/pkg/domain-errors"

// Failure outcomes of the authentication state machine. Each is distinguishable by
// errors.Is and carries the transport classification in its code.
var (
	ErrInvalidFormat      = dErrors.New(dErrors.CodeInvalidFormat, "invalid NIC format")
	ErrSessionNotFound    = dErrors.New(dErrors.CodeNotFound, "session not found")
	ErrChallengeMismatch  = dErrors.New(dErrors.CodeUnauthorized, "challenge mismatch")
	ErrWrongActor         = dErrors.New(dErrors.CodeUnauthorized, "only officers can verify fingerprint")
	ErrInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid password for citizen")
	ErrAccountExists      = dErrors.New(dErrors.CodeForbidden, "citizen already has a password or invalid actor")
	ErrSessionCompleted   = dErrors.New(dErrors.CodeForbidden, "session already completed")
)
