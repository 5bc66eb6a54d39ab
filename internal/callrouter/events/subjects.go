package events

import "fmt"

// Subject naming conventions.
//
// Hierarchy:
//   callrouter.sessions.<session_id>.<event_suffix>  - Per-session events

const (
	// SubjectPrefix is the root of all callrouter subjects
	SubjectPrefix = "callrouter"

	// Session event subjects
	SubjectSessions       = SubjectPrefix + ".sessions"
	SubjectSessionCreated = "created"
	SubjectSessionTalking = "talking"
	SubjectSessionQueued  = "queued"
	SubjectSessionEnded   = "ended"
	SubjectSessionDialOut = "dialout"
)

// SessionSubject builds a subject for a specific session event.
// Example: SessionSubject("abc-123", "ended") => "callrouter.sessions.abc-123.ended"
func SessionSubject(sessionID string, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessions, sessionID, eventSuffix)
}

// SubjectForEventType returns the suffix used for a given event type.
func SubjectForEventType(t EventType) string {
	switch t {
	case SessionCreated:
		return SubjectSessionCreated
	case SessionTalking:
		return SubjectSessionTalking
	case SessionQueued:
		return SubjectSessionQueued
	case SessionEnded:
		return SubjectSessionEnded
	case SessionDialOut:
		return SubjectSessionDialOut
	default:
		return "unknown"
	}
}
