package paymentauth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeNotFound           = "AUTHENTICATION_NOT_FOUND"
	textCodeAlreadyExists      = "AUTHENTICATION_ALREADY_EXISTS"
	textCodeAlreadySet         = "CONNECTOR_AUTHENTICATION_ID_ALREADY_SET"
	textCodeInvalidTransition  = "INVALID_AUTHENTICATION_TRANSITION"
	textCodeTerminalState      = "TERMINAL_AUTHENTICATION_STATE"
	textCodeConflict           = "AUTHENTICATION_WRITE_CONFLICT"
	textCodeStorageUnavailable = "AUTHENTICATION_STORAGE_UNAVAILABLE"
	textCodeInvalidRecord      = "INVALID_AUTHENTICATION_RECORD"
)

// ErrNotFound is returned when no record exists for the given id or query key.
var ErrNotFound = goerrors.New("authentication record not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyExists is returned when a create collides with an existing record,
// either on authentication_id or on the one-active-per-payment-method invariant.
var ErrAlreadyExists = goerrors.New("authentication record already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrAlreadySet is returned when the write-once connector authentication id is
// already populated.
var ErrAlreadySet = goerrors.New("connector authentication id already set", goerrors.CategoryConflict).
	WithTextCode(textCodeAlreadySet).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the transition table.
var ErrInvalidTransition = goerrors.New("invalid authentication state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from a terminal
// status (success, failed, error).
var ErrTerminalState = goerrors.New("authentication state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrConflict is returned to the loser of a concurrent-write race. The record
// holds the winner's state; callers should reread and retry or propagate.
var ErrConflict = goerrors.New("authentication record was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(textCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrStorageUnavailable wraps unexpected storage-layer failures (connectivity,
// corruption). Distinct from the domain-level rejections above.
var ErrStorageUnavailable = goerrors.New("authentication storage unavailable", goerrors.CategoryOperation).
	WithTextCode(textCodeStorageUnavailable)

// IsNotFound checks for the not-found condition.
func IsNotFound(err error) bool {
	return hasTextCode(err, textCodeNotFound)
}

// IsAlreadyExists checks for a duplicate-record condition on create.
func IsAlreadyExists(err error) bool {
	return hasTextCode(err, textCodeAlreadyExists)
}

// IsAlreadySet checks for a write-once violation on the connector id.
func IsAlreadySet(err error) bool {
	return hasTextCode(err, textCodeAlreadySet)
}

// IsInvalidTransition checks for a rejected status transition. Terminal-state
// rejections satisfy this predicate as well.
func IsInvalidTransition(err error) bool {
	return hasTextCode(err, textCodeInvalidTransition) || hasTextCode(err, textCodeTerminalState)
}

// IsConflict checks whether the caller lost a concurrent-write race.
func IsConflict(err error) bool {
	return hasTextCode(err, textCodeConflict)
}

// IsInvalidRecord checks for a rejected record on create (missing required
// fields or an unknown enum value).
func IsInvalidRecord(err error) bool {
	return hasTextCode(err, textCodeInvalidRecord)
}

// IsStorageUnavailable checks for an infrastructure failure.
func IsStorageUnavailable(err error) bool {
	return hasTextCode(err, textCodeStorageUnavailable)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var e *goerrors.Error
	if goerrors.As(err, &e) {
		return e.TextCode == code
	}
	return false
}

// wrapStorageErr converts a driver failure into the storage-unavailable
// condition, preserving the cause for unwrapping.
func wrapStorageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, "authentication storage unavailable").
		WithTextCode(textCodeStorageUnavailable).
		WithMetadata(map[string]any{"operation": op})
}
