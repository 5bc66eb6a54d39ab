package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for dial outcomes, checked with errors.Is.
var (
	ErrBusy           = errors.New("operator busy or unavailable")
	ErrOperatorHungUp = errors.New("operator hung up")
	ErrLostRace       = errors.New("answered by another operator")
	ErrDialCanceled   = errors.New("dial canceled")
	ErrOriginate      = errors.New("originate failed")
	ErrBridge         = errors.New("bridge failed")

	ErrAlreadyStarted = errors.New("session already started")
	ErrNoChannel      = errors.New("session has no incoming channel")
)

// DialError provides details when a dial attempt does not connect.
type DialError struct {
	Target string
	Cause  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.Target, e.Cause)
}

func (e *DialError) Unwrap() error {
	return e.Cause
}

// IsCanceled returns true if the dial stopped because the session ended.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrDialCanceled)
}
