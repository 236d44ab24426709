// Package fault defines the error classes shared by the relay controller.
// Callers classify with errors.As; the HTTP layer maps each class to a status.
package fault

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown relay or schedule
type NotFoundError struct {
	Kind string // "relay" or "schedule"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PersistenceError reports a document that could not be read or written.
// For writes the in-memory mutation has already happened.
type PersistenceError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedRuleError reports a stored rule that cannot be evaluated
type MalformedRuleError struct {
	RelayID string
	Field   string
	Value   string
	Err     error
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("rule %s: bad %s %q: %v", e.RelayID, e.Field, e.Value, e.Err)
}

func (e *MalformedRuleError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPersistence reports whether err is or wraps a PersistenceError
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
