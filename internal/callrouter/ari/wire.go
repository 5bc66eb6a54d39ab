package ari

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// ARI timestamps carry a numeric zone without a colon.
const timestampLayout = "2006-01-02T15:04:05.000-0700"

type callerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

type channel struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Caller callerID `json:"caller"`
}

func (c *channel) toGateway() *gateway.Channel {
	if c == nil {
		return nil
	}
	return &gateway.Channel{
		ID:     c.ID,
		Name:   c.Name,
		State:  c.State,
		Caller: gateway.CallerID{Name: c.Caller.Name, Number: c.Caller.Number},
	}
}

type endpoint struct {
	Technology string   `json:"technology"`
	Resource   string   `json:"resource"`
	State      string   `json:"state"`
	ChannelIDs []string `json:"channel_ids"`
}

func (e endpoint) toGateway() gateway.Endpoint {
	state := gateway.EndpointState(e.State)
	switch state {
	case gateway.EndpointOnline, gateway.EndpointOffline:
	default:
		state = gateway.EndpointUnknown
	}
	return gateway.Endpoint{
		Technology: e.Technology,
		Resource:   e.Resource,
		State:      state,
		ChannelIDs: e.ChannelIDs,
	}
}

type bridge struct {
	ID         string   `json:"id"`
	BridgeType string   `json:"bridge_type"`
	Channels   []string `json:"channels"`
}

func (b bridge) toGateway() *gateway.Bridge {
	return &gateway.Bridge{ID: b.ID, BridgeType: b.BridgeType, ChannelIDs: b.Channels}
}

type playback struct {
	ID        string `json:"id"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

// message is the union of the websocket event fields the router reads.
type message struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Channel   *channel        `json:"channel"`
	Args      []string        `json:"args"`
	Digit     string          `json:"digit"`
	Playback  *playback       `json:"playback"`
	Cause     int             `json:"cause"`
	CauseTxt  string          `json:"cause_txt"`
	EventName string          `json:"eventname"`
	UserEvent json.RawMessage `json:"userevent"`
}

// decodeEvent parses one websocket frame. ok is false for event types the
// router does not consume.
func decodeEvent(data []byte) (e gateway.Event, ok bool, err error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return gateway.Event{}, false, fmt.Errorf("decode ari event: %w", err)
	}

	switch gateway.EventType(m.Type) {
	case gateway.StasisStart, gateway.StasisEnd, gateway.ChannelDestroyed,
		gateway.DTMFReceived, gateway.PlaybackFinished, gateway.UserEvent:
	default:
		return gateway.Event{}, false, nil
	}

	e = gateway.Event{
		Type:      gateway.EventType(m.Type),
		Timestamp: parseTimestamp(m.Timestamp),
		Channel:   m.Channel.toGateway(),
		Args:      m.Args,
		Digit:     m.Digit,
		Cause:     m.Cause,
		CauseText: m.CauseTxt,
		EventName: m.EventName,
	}
	if m.Playback != nil {
		e.PlaybackID = m.Playback.ID
	}
	if len(m.UserEvent) > 0 {
		data, err := userData(m.UserEvent)
		if err != nil {
			return gateway.Event{}, false, err
		}
		e.UserData = data
	}
	return e, true, nil
}

// userData flattens a ChannelUserevent payload to strings.
func userData(raw json.RawMessage) (map[string]string, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode userevent: %w", err)
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case string:
			out[k] = v
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now()
}
