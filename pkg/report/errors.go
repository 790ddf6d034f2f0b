package report

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	// ErrInvalidTrackingToken is deliberately a NotFound: callers holding the
	// wrong token must not learn that the reference exists.
	ErrInvalidTrackingToken  = fmt.Errorf("%w: tracking token mismatch", ErrNotFound)
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CheckTransition returns ErrInvalidTransition unless from->to is in the table.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}
	return nil
}
