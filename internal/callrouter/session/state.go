package session

import "fmt"

// State is the lifecycle state of a call session.
type State int

const (
	// StateCreated indicates the session exists but Run has not started.
	StateCreated State = iota
	// StateRoutingDecision indicates the directory lookup is in progress.
	StateRoutingDecision
	// StateIVR indicates prompts are playing and DTMF is being collected.
	StateIVR
	// StateDialing indicates operator legs are being originated.
	StateDialing
	// StateBridged indicates the caller is talking to an operator.
	StateBridged
	// StateQueued indicates the caller is on hold waiting for an operator.
	StateQueued
	// StateEnded is absorbing.
	StateEnded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRoutingDecision:
		return "RoutingDecision"
	case StateIVR:
		return "IVR"
	case StateDialing:
		return "Dialing"
	case StateBridged:
		return "Bridged"
	case StateQueued:
		return "Queued"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateEnded
}

// Cause explains why a session ended.
type Cause string

const (
	CauseCallerHungUp         Cause = "caller hung up before answer"
	CauseNormalClearing       Cause = "normal clearing"
	CauseNobodyAnswers        Cause = "nobody answers"
	CauseNoOperatorsOnline    Cause = "no operators online"
	CauseOperatorsUnavailable Cause = "operators unavailable"
	CauseBridgeFailed         Cause = "bridge failed"
	CauseShutdown             Cause = "service shutdown"
)
