package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references a subscription,
// queue entry, or API key that does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a malformed definition before anything is
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
