package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
)

func snapshot(id string) types.Session {
	return types.Session{
		ID:    id,
		State: "Dialing",
		Channels: types.Channels{
			In: &types.ChannelInfo{ID: "in-1", Caller: types.CallerID{Number: "5551000"}},
		},
	}
}

func TestEventSubjectNaming(t *testing.T) {
	builder := NewBuilder("test-node")

	event := builder.SessionCreated(snapshot("sess-123"))

	expected := "callrouter.sessions.sess-123.created"
	if got := event.Subject(); got != expected {
		t.Errorf("Subject() = %q, want %q", got, expected)
	}
}

func TestSessionEndedEventJSON(t *testing.T) {
	builder := NewBuilder("test-node")

	event := builder.SessionEnded(snapshot("sess-123")).
		Answered(true).
		Cause("normal clearing").
		Build()

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]string{
		"event_type": "session.ended",
		"session_id": "sess-123",
		"node_id":    "test-node",
		"cause":      "normal clearing",
	}
	for k, want := range checks {
		if got, ok := m[k].(string); !ok || got != want {
			t.Errorf("m[%q] = %v, want %q", k, m[k], want)
		}
	}
	if m["answered"] != true {
		t.Errorf("answered = %v, want true", m["answered"])
	}

	sess, ok := m["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("session = %v", m["session"])
	}
	if sess["cause"] != "normal clearing" {
		t.Errorf("session.cause = %v", sess["cause"])
	}
}

func TestClientNames(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{SessionCreated, "session-new"},
		{SessionTalking, "session-talking"},
		{SessionQueued, "session-queued"},
		{SessionEnded, "session-end"},
		{SessionDialOut, "dial-out"},
		{EventType("other"), "other"},
	}
	for _, tt := range tests {
		if got := tt.typ.ClientName(); got != tt.want {
			t.Errorf("%s.ClientName() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestDialOutEvent(t *testing.T) {
	builder := NewBuilder("test")
	event := builder.DialOut(types.DialOut{ChannelID: "ch-9", Phone: "201", To: "5552000", State: "Up"})

	if event.Subject() != "callrouter.sessions.ch-9.dialout" {
		t.Errorf("Subject() = %q", event.Subject())
	}
	payload, ok := event.Payload().(types.DialOut)
	if !ok || payload.To != "5552000" {
		t.Errorf("Payload() = %#v", event.Payload())
	}
}

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher()
	builder := NewBuilder("test")

	event := builder.SessionCreated(snapshot("sess-1"))

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Errorf("NoopPublisher.Publish() error = %v", err)
	}

	pub.PublishAsync(event)

	if err := pub.Close(); err != nil {
		t.Errorf("NoopPublisher.Close() error = %v", err)
	}
}

func TestChannelPublisher(t *testing.T) {
	pub := NewChannelPublisher(10, nil)
	builder := NewBuilder("test")

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := builder.SessionCreated(snapshot("sess-" + string(rune('0'+i))))
		if err := pub.Publish(ctx, event); err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	}

	ch := pub.Events()
	for i := 0; i < 5; i++ {
		select {
		case e := <-ch:
			if e.Type() != SessionCreated {
				t.Errorf("got type %v, want SessionCreated", e.Type())
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}

	pub.Close()
	pub.Close()
	if err := pub.Publish(ctx, builder.SessionCreated(snapshot("late"))); err != nil {
		t.Errorf("Publish after Close error = %v", err)
	}
}

func TestChannelPublisherDropsOnFull(t *testing.T) {
	pub := NewChannelPublisher(2, nil)
	builder := NewBuilder("test")

	ctx := context.Background()

	pub.Publish(ctx, builder.SessionCreated(snapshot("sess-1")))
	pub.Publish(ctx, builder.SessionCreated(snapshot("sess-2")))

	// This should be dropped
	pub.Publish(ctx, builder.SessionCreated(snapshot("sess-3")))
	pub.PublishAsync(builder.SessionCreated(snapshot("sess-4")))

	if got := pub.DroppedCount(); got != 2 {
		t.Errorf("DroppedCount() = %d, want 2", got)
	}

	pub.Close()
}

type failingPublisher struct{ NoopPublisher }

func (failingPublisher) Publish(ctx context.Context, event Event) error {
	return errors.New("transport down")
}

func TestMultiPublisher(t *testing.T) {
	ch1 := NewChannelPublisher(10, nil)
	ch2 := NewChannelPublisher(10, nil)

	multi := NewMultiPublisher(nil, ch1, ch2)
	builder := NewBuilder("test")

	event := builder.SessionTalking(snapshot("sess-1"))
	if err := multi.Publish(context.Background(), event); err != nil {
		t.Errorf("MultiPublisher.Publish() error = %v", err)
	}

	select {
	case <-ch1.Events():
	case <-time.After(time.Second):
		t.Error("ch1 did not receive event")
	}

	select {
	case <-ch2.Events():
	case <-time.After(time.Second):
		t.Error("ch2 did not receive event")
	}

	multi.Close()
}

func TestMultiPublisherReportsFailure(t *testing.T) {
	ch := NewChannelPublisher(10, nil)
	multi := NewMultiPublisher(nil, &failingPublisher{}, ch)

	err := multi.Publish(context.Background(), NewBuilder("test").SessionQueued(snapshot("sess-1")))
	if err == nil {
		t.Error("expected error from failing publisher")
	}
	select {
	case <-ch.Events():
	default:
		t.Error("healthy publisher should still receive the event")
	}
}

func TestSessionSubjects(t *testing.T) {
	builder := NewBuilder("test")
	snap := snapshot("abc-123")

	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"created", builder.SessionCreated(snap), "callrouter.sessions.abc-123.created"},
		{"talking", builder.SessionTalking(snap), "callrouter.sessions.abc-123.talking"},
		{"queued", builder.SessionQueued(snap), "callrouter.sessions.abc-123.queued"},
		{"ended", builder.SessionEnded(snap).Build(), "callrouter.sessions.abc-123.ended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}
