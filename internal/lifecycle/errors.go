package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRequest is returned when an action names a request that is not the
	// one currently attached.
	ErrNoRequest = errors.New("no such request attached")
	// ErrRoleNotAllowed is returned when the session role may not perform the
	// action, e.g. a mechanic accepting a fuel request.
	ErrRoleNotAllowed = errors.New("role not allowed")
)

// ValidationError is raised locally, before any network call.
type ValidationError struct {
	Op     Op
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(op Op, field, format string, args ...any) error {
	return &ValidationError{Op: op, Field: field, Reason: fmt.Sprintf(format, args...)}
}
