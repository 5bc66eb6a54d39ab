package events

import (
	"time"

	"github.com/google/uuid"
	types "github.com/sebas/callrouter/api/types/v1"
)

// Builder provides construction of session events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(eventType EventType, sessionID string) BaseEvent {
	return BaseEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		EventTime:   time.Now().UTC(),
		SessionUUID: sessionID,
		NodeID:      b.nodeID,
	}
}

// SessionCreated builds a session.created event.
func (b *Builder) SessionCreated(snap types.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionCreated, snap.ID), Session: snap}
}

// SessionTalking builds a session.talking event.
func (b *Builder) SessionTalking(snap types.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionTalking, snap.ID), Session: snap}
}

// SessionQueued builds a session.queued event.
func (b *Builder) SessionQueued(snap types.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionQueued, snap.ID), Session: snap}
}

// SessionEndedBuilder constructs session.ended events.
type SessionEndedBuilder struct {
	event *SessionEvent
}

// SessionEnded starts building a session.ended event.
func (b *Builder) SessionEnded(snap types.Session) *SessionEndedBuilder {
	return &SessionEndedBuilder{
		event: &SessionEvent{BaseEvent: b.newBase(SessionEnded, snap.ID), Session: snap},
	}
}

func (eb *SessionEndedBuilder) Answered(answered bool) *SessionEndedBuilder {
	eb.event.Answered = answered
	return eb
}

func (eb *SessionEndedBuilder) Cause(cause string) *SessionEndedBuilder {
	eb.event.Cause = cause
	if eb.event.Session.Cause == "" {
		eb.event.Session.Cause = cause
	}
	return eb
}

func (eb *SessionEndedBuilder) Build() *SessionEvent {
	return eb.event
}

// DialOut builds a session.dialout event.
func (b *Builder) DialOut(d types.DialOut) *DialOutEvent {
	return &DialOutEvent{BaseEvent: b.newBase(SessionDialOut, d.ChannelID), DialOut: d}
}
