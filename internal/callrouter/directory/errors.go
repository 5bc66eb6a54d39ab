package directory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCaller is returned when the caller number is empty.
var ErrEmptyCaller = errors.New("directory: caller number must be a non-empty string")

// ValidationError reports a directory response that does not match the
// operator record schema.
type ValidationError struct {
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := "directory: invalid operator record"
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// APIError is returned for non-2xx directory responses.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("directory: API error: %d", e.StatusCode)
	if e.Body != "" {
		msg += " - " + e.Body
	}
	return msg
}
