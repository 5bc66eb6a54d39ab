package gateway

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// EventType names a gateway event.
type EventType string

const (
	// StasisStart fires when a channel enters the routing application:
	// a new inbound call, or an originated leg that was answered.
	StasisStart EventType = "StasisStart"
	// StasisEnd fires when a channel leaves the application (hangup).
	StasisEnd        EventType = "StasisEnd"
	ChannelDestroyed EventType = "ChannelDestroyed"
	DTMFReceived     EventType = "ChannelDtmfReceived"
	PlaybackFinished EventType = "PlaybackFinished"
	UserEvent        EventType = "ChannelUserevent"
)

// Event is a decoded gateway event.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Channel    *Channel
	Args       []string
	Digit      string
	PlaybackID string
	Cause      int
	CauseText  string

	// ChannelUserevent payload
	EventName string
	UserData  map[string]string
}

// ChannelID returns the id of the channel the event concerns, if any.
func (e Event) ChannelID() string {
	if e.Channel == nil {
		return ""
	}
	return e.Channel.ID
}

// Filter selects events for a subscription.
type Filter func(Event) bool

// ForChannel accepts events concerning channelID.
func ForChannel(channelID string) Filter {
	return func(e Event) bool { return e.ChannelID() == channelID }
}

// ForPlayback accepts events concerning playbackID.
func ForPlayback(playbackID string) Filter {
	return func(e Event) bool { return e.PlaybackID == playbackID }
}

// OfType accepts events of the listed types.
func OfType(types ...EventType) Filter {
	return func(e Event) bool { return slices.Contains(types, e.Type) }
}

// All accepts events accepted by every filter.
func All(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}
}

// DefaultSubscriptionBuffer is the per-subscription event buffer.
const DefaultSubscriptionBuffer = 64

// Subscription receives events from a Bus.
type Subscription struct {
	bus    *Bus
	filter Filter
	ch     chan Event
	once   sync.Once
}

// Events returns the event channel. It is closed on Cancel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus fans gateway events out to subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
	closed bool
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultSubscriptionBuffer,
		logger: logger,
	}
}

// Subscribe registers a filtered subscription. On a closed bus the returned
// subscription's channel is already closed.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = func(Event) bool { return true }
	}
	sub := &Subscription{bus: b, filter: filter, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every matching subscription. A full
// subscription buffer drops the event with a warning.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.logger.Warn("[Gateway] Event dropped: subscriber buffer full",
				"type", e.Type,
				"channel_id", e.ChannelID(),
			)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close cancels every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
