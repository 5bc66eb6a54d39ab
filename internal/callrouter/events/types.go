// Package events provides session lifecycle event definitions and
// publishing infrastructure. Events are transport-agnostic; the notify
// package fans them out to websocket and gRPC watchers.
package events

import (
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
)

// EventType identifies the type of session event
type EventType string

const (
	// SessionCreated fires when an inbound call starts a session
	SessionCreated EventType = "session.created"
	// SessionTalking fires when the caller is bridged with an operator
	SessionTalking EventType = "session.talking"
	// SessionQueued fires when the caller is placed on hold
	SessionQueued EventType = "session.queued"
	// SessionEnded fires when the session terminates (any cause)
	SessionEnded EventType = "session.ended"
	// SessionDialOut fires when the dialplan reports an outbound dial
	SessionDialOut EventType = "session.dialout"
)

// ClientName returns the event name pushed to notification clients.
func (t EventType) ClientName() string {
	switch t {
	case SessionCreated:
		return "session-new"
	case SessionTalking:
		return "session-talking"
	case SessionQueued:
		return "session-queued"
	case SessionEnded:
		return "session-end"
	case SessionDialOut:
		return "dial-out"
	default:
		return string(t)
	}
}

// Event is the base interface for all session events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the subject this event is published to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// SessionID returns the primary correlation ID
	SessionID() string
	// Payload returns the client-facing body of the event
	Payload() any
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is a unique identifier for this event instance (for deduplication)
	EventID string `json:"event_id"`
	// EventType identifies the event
	EventType EventType `json:"event_type"`
	// EventTime is when the event occurred
	EventTime time.Time `json:"event_time"`
	// SessionUUID is the session the event belongs to; for dial-out events
	// it is the reporting channel id
	SessionUUID string `json:"session_id"`
	// NodeID identifies the callrouter instance
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) SessionID() string    { return e.SessionUUID }

// Subject returns the routing subject.
// Format: callrouter.sessions.<session_id>.<event_type_suffix>
func (e *BaseEvent) Subject() string {
	return SessionSubject(e.SessionUUID, SubjectForEventType(e.EventType))
}

// SessionEvent carries a session snapshot (created, talking, queued, ended).
type SessionEvent struct {
	BaseEvent
	Session types.Session `json:"session"`
	// Answered and Cause are set on session.ended only
	Answered bool   `json:"answered,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

func (e *SessionEvent) Payload() any { return e.Session }

// DialOutEvent reports an outbound dial announced by the dialplan.
type DialOutEvent struct {
	BaseEvent
	DialOut types.DialOut `json:"dial_out"`
}

func (e *DialOutEvent) Payload() any { return e.DialOut }
