package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidTechniques means the selector could not extract a single
	// taxonomy member from the model output. Fatal for the turn.
	ErrNoValidTechniques = errors.New("no valid techniques in selector output")

	// ErrMalformedSnapshot rejects a session snapshot before it enters the
	// turn pipeline.
	ErrMalformedSnapshot = errors.New("malformed session snapshot")

	// ErrClassificationFailure marks a crisis or relevance gate whose
	// capability failed or returned unusable output.
	ErrClassificationFailure = errors.New("classification failure")

	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError reports bad caller input (client profile or message).
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

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
