package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/events"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
	"github.com/sebas/callrouter/internal/callrouter/gateway/gatewaytest"
	"github.com/sebas/callrouter/internal/callrouter/session"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	gw     *gatewaytest.Gateway
	pub    *events.ChannelPublisher
	d      *Dispatcher
	cancel context.CancelFunc
	done   chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := gatewaytest.New()
	pub := events.NewChannelPublisher(100, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := New(Config{
		NodeID: "test",
		Session: session.Config{
			App:           "callrouter",
			WelcomePrompt: "welcome",
			RetryDelay:    10 * time.Millisecond,
		},
	}, gw, nil, pub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{gw: gw, pub: pub, d: d, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		if err := d.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return gw.Subscribers() > 0 }, "dispatcher subscribed")

	t.Cleanup(func() {
		f.stop(t)
		gw.Close()
	})
	return f
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	f.cancel()
	select {
	case <-f.done:
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for dispatcher to stop")
	}
}

// next returns the next published event of type want, skipping others.
func (f *fixture) next(t *testing.T, want events.EventType) events.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-f.pub.Events():
			if e.Type() == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", want)
			return nil
		}
	}
}

func TestInboundCallLifecycle(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	f.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	f.gw.Inbound("in-1", "5551000")

	created := f.next(t, events.SessionCreated)
	s, ok := f.d.Session("in-1")
	if !ok {
		t.Fatal("session not registered")
	}
	if created.SessionID() != s.ID() {
		t.Errorf("created session id = %q, want %q", created.SessionID(), s.ID())
	}

	f.next(t, events.SessionTalking)
	if got := f.d.Snapshots(); len(got) != 1 || got[0].State != "Bridged" {
		t.Errorf("Snapshots() = %+v", got)
	}

	f.gw.Destroy(f.gw.Originated()[0].ChannelID)
	ended := f.next(t, events.SessionEnded).(*events.SessionEvent)
	if !ended.Answered || ended.Cause != string(session.CauseNormalClearing) {
		t.Errorf("ended event = %+v", ended)
	}

	if f.d.Len() != 0 {
		t.Errorf("Len() = %d after end, want 0", f.d.Len())
	}
	recent := f.d.Recent()
	if len(recent) != 1 || recent[0].ID != s.ID() {
		t.Errorf("Recent() = %+v", recent)
	}
	stats := f.d.Stats()
	if stats.TotalSessions != 1 || stats.AnsweredSessions != 1 || stats.EndCauses[string(session.CauseNormalClearing)] != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestOperatorLegDoesNotCreateSession(t *testing.T) {
	f := newFixture(t)

	f.gw.Publish(gateway.Event{
		Type:    gateway.StasisStart,
		Channel: &gateway.Channel{ID: "out-1"},
		Args:    []string{session.DefaultOperatorLegTag},
	})
	f.gw.Publish(gateway.Event{Type: gateway.StasisStart})

	time.Sleep(50 * time.Millisecond)
	if f.d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.d.Len())
	}
	if f.d.Stats().TotalSessions != 0 {
		t.Error("operator legs must not be counted")
	}
}

func TestDuplicateStasisStartIgnored(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)

	ch := f.gw.Inbound("in-1", "5551000")
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return f.d.Len() == 1 }, "session registered")
	first, _ := f.d.Session("in-1")

	f.d.HandleEvent(gateway.Event{Type: gateway.StasisStart, Channel: ch})

	second, _ := f.d.Session("in-1")
	if first != second {
		t.Error("duplicate StasisStart replaced the session")
	}
	if f.d.Stats().TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", f.d.Stats().TotalSessions)
	}
}

func TestQueuedCallerResumesWhenOperatorFrees(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	f.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	f.gw.Inbound("in-1", "5551000")
	f.next(t, events.SessionTalking)
	f.gw.SetBusy("SIP", "201", true)

	f.gw.Inbound("in-2", "5552000")
	f.next(t, events.SessionQueued)
	if q := f.d.Queue(); len(q) != 1 || q[0].Channels.In.ID != "in-2" {
		t.Fatalf("Queue() = %+v", q)
	}
	if f.d.Stats().QueuedSessions != 1 {
		t.Errorf("QueuedSessions = %d, want 1", f.d.Stats().QueuedSessions)
	}

	f.gw.SetBusy("SIP", "201", false)
	f.gw.Destroy(f.gw.Originated()[0].ChannelID)
	f.next(t, events.SessionEnded)

	talking := f.next(t, events.SessionTalking)
	s2, ok := f.d.Session("in-2")
	if !ok || talking.SessionID() != s2.ID() {
		t.Fatalf("resumed session not talking")
	}
	if len(f.d.Queue()) != 0 {
		t.Error("queue should be empty after resume")
	}
}

func TestQueuedCallersResumeInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	f.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	f.gw.Inbound("in-1", "5551000")
	f.next(t, events.SessionTalking)
	f.gw.SetBusy("SIP", "201", true)

	f.gw.Inbound("in-A", "5552000")
	f.next(t, events.SessionQueued)
	f.gw.Inbound("in-B", "5553000")
	f.next(t, events.SessionQueued)
	if q := f.d.Queue(); len(q) != 2 || q[0].Channels.In.ID != "in-A" || q[1].Channels.In.ID != "in-B" {
		t.Fatalf("Queue() = %+v", q)
	}

	f.gw.SetBusy("SIP", "201", false)
	f.gw.Destroy(f.gw.Originated()[0].ChannelID)
	f.next(t, events.SessionEnded)

	talking := f.next(t, events.SessionTalking)
	a, ok := f.d.Session("in-A")
	if !ok || talking.SessionID() != a.ID() {
		t.Fatalf("first queued caller was not resumed")
	}
	q := f.d.Queue()
	if len(q) != 1 || q[0].Channels.In.ID != "in-B" {
		t.Errorf("Queue() = %+v, want in-B at head", q)
	}
}

func TestQueuedCallerHangupLeavesQueue(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, true)

	f.gw.Inbound("in-1", "5551000")
	f.next(t, events.SessionQueued)

	f.gw.Destroy("in-1")
	ended := f.next(t, events.SessionEnded).(*events.SessionEvent)
	if ended.Answered || ended.Cause != string(session.CauseCallerHungUp) {
		t.Errorf("ended event = %+v", ended)
	}
	if len(f.d.Queue()) != 0 || f.d.Len() != 0 {
		t.Error("hung up caller still tracked")
	}
}

func TestDialOutForwarded(t *testing.T) {
	f := newFixture(t)

	f.gw.Publish(gateway.Event{
		Type:      gateway.UserEvent,
		EventName: DialOutEvent,
		Channel:   &gateway.Channel{ID: "ch-7", Name: "SIP/201-0001"},
		UserData:  map[string]string{"phone": "201", "to": "5553000", "state": "Ring"},
	})
	f.gw.Publish(gateway.Event{Type: gateway.UserEvent, EventName: "Other"})

	e := f.next(t, events.SessionDialOut).(*events.DialOutEvent)
	d := e.DialOut
	if d.ChannelID != "ch-7" || d.Name != "SIP/201-0001" || d.Phone != "201" || d.To != "5553000" || d.State != "Ring" {
		t.Errorf("dial out = %+v", e.DialOut)
	}
}

func TestShutdownEndsLiveSessions(t *testing.T) {
	f := newFixture(t)
	f.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	f.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, true)

	f.gw.Inbound("in-1", "5551000")
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(f.gw.Originated()) == 1 }, "operator dialed")

	f.gw.SetBusy("SIP", "201", true)
	f.gw.Inbound("in-2", "5552000")
	f.next(t, events.SessionQueued)

	f.stop(t)

	if f.d.Len() != 0 {
		t.Errorf("Len() = %d after shutdown", f.d.Len())
	}
	if got := f.d.Stats().EndCauses[string(session.CauseShutdown)]; got != 2 {
		t.Errorf("shutdown ends = %d, want 2", got)
	}
	if !f.gw.HungUp("in-1") || !f.gw.HungUp("in-2") {
		t.Error("callers not hung up on shutdown")
	}
}
