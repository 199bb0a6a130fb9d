// Package apperr defines the error taxonomy shared by the escalation and
// reporting services. Callers branch with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("token expired")
	ErrAlreadySubmitted = errors.New("report already submitted")
	ErrNotYetSubmitted  = errors.New("report not yet submitted")
	ErrAlreadyReviewed  = errors.New("report already reviewed")
)

// ValidationError reports malformed rule or report input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for &ValidationError{...}.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DispatchError wraps a notification transport failure for one action.
type DispatchError struct {
	Action string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. The whole tick is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already is one or
// is a domain sentinel that must pass through unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var ve *ValidationError
	if errors.As(err, &pe) || errors.As(err, &ve) || IsDomain(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsDomain reports whether err is one of the lifecycle sentinels.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadySubmitted) ||
		errors.Is(err, ErrNotYetSubmitted) ||
		errors.Is(err, ErrAlreadyReviewed)
}
