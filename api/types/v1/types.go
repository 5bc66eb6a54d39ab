// Package types defines shared API types for the call router, its
// notification clients and the monitor.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       int64  `json:"uptime"`
	GatewayState string `json:"gateway_state"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	TotalSessions    int            `json:"total_sessions"`
	ActiveSessions   int            `json:"active_sessions"`
	QueuedSessions   int            `json:"queued_sessions"`
	AnsweredSessions int            `json:"answered_sessions"`
	EndCauses        map[string]int `json:"end_causes,omitempty"`
}

// CallerID identifies a calling party.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// ChannelInfo describes one leg of a session.
type ChannelInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Caller CallerID `json:"caller"`
}

// Channels holds the legs of a session.
type Channels struct {
	In  *ChannelInfo `json:"in"`
	Out *ChannelInfo `json:"out"`
}

// Session is a point-in-time view of a call session.
type Session struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	Manager    string   `json:"manager,omitempty"`
	Dialed     string   `json:"dialed,omitempty"`
	TalkStart  string   `json:"talk_start,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Queued     bool     `json:"queued"`
	Cause      string   `json:"cause,omitempty"`
	Channels   Channels `json:"channels"`
}

// SessionsResponse is the response from /api/v1/sessions
type SessionsResponse struct {
	Active []Session `json:"active"`
	Recent []Session `json:"recent"`
}

// QueueResponse is the response from /api/v1/queue
type QueueResponse struct {
	Length   int       `json:"length"`
	Sessions []Session `json:"sessions"`
}

// DialOut is an outbound dial reported by the dialplan through a user event.
type DialOut struct {
	ChannelID string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Phone     string `json:"phone"`
	To        string `json:"to"`
}
