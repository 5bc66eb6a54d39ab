package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/directory"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
	"github.com/sebas/callrouter/internal/callrouter/gateway/gatewaytest"
	"github.com/sebas/callrouter/internal/callrouter/queue"
)

const waitTimeout = 2 * time.Second

type endRecord struct {
	answered bool
	cause    Cause
}

type recorder struct {
	mu        sync.Mutex
	started   int
	connected int
	queued    int
	ended     []endRecord
}

func (r *recorder) SessionStarted(*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) ChannelConnected(*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *recorder) PlacedToQueue(*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued++
}

func (r *recorder) SessionEnded(_ *Session, answered bool, cause Cause) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, endRecord{answered, cause})
}

func (r *recorder) ends() []endRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]endRecord(nil), r.ended...)
}

type harness struct {
	gw    *gatewaytest.Gateway
	obs   *recorder
	queue *queue.HoldQueue[*Session]
	deps  Deps
}

func newHarness(t *testing.T, lookup directory.Lookup) *harness {
	t.Helper()
	gw := gatewaytest.New()
	t.Cleanup(gw.Close)

	h := &harness{
		gw:    gw,
		obs:   &recorder{},
		queue: queue.New[*Session](),
	}
	h.deps = Deps{
		Gateway:   gw,
		Directory: lookup,
		Queue:     h.queue,
		Observer:  h.obs,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: Config{
			App:           "callrouter",
			WelcomePrompt: "welcome",
			RoutingPrompt: "routing",
			RetryDelay:    10 * time.Millisecond,
			RecordingRoot: "recordings",
		},
	}
	return h
}

func (h *harness) newSession(channelID, caller string) *Session {
	ch := h.gw.Inbound(channelID, caller)
	return New(h.deps, *ch)
}

// start runs the session in the background and returns a channel closed
// when Run returns.
func start(t *testing.T, s *Session) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(context.Background()); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	return done
}

func waitClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timeout: %s", msg)
	}
}

func operatorLookup(phone string) directory.Lookup {
	return directory.LookupFunc(func(ctx context.Context, caller string) (*directory.Operator, error) {
		return &directory.Operator{Phones: []string{phone}, Manager: "Anna"}, nil
	})
}

func TestResponsibleOperatorConnects(t *testing.T) {
	h := newHarness(t, operatorLookup("SIP/201"))
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	originated := h.gw.Originated()
	if len(originated) != 1 {
		t.Fatalf("originated %d legs, want 1", len(originated))
	}
	req := originated[0]
	if req.Endpoint != "SIP/201" || req.AppArgs != DefaultOperatorLegTag || req.Timeout != DefaultOneTimeout {
		t.Errorf("originate request = %+v", req)
	}
	if req.CallerID != "5551000" {
		t.Errorf("originate caller id = %q", req.CallerID)
	}
	if h.gw.Ringing("in-1") {
		t.Error("caller should no longer be ringing once bridged")
	}

	bridges := h.gw.Bridges()
	if len(bridges) != 1 {
		t.Fatalf("bridges = %d, want 1", len(bridges))
	}
	br := bridges[0]
	if !slices.Equal(br.ChannelIDs, []string{"in-1", req.ChannelID}) {
		t.Errorf("bridge members = %v", br.ChannelIDs)
	}

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Recordings()) == 1 }, "recording started")
	rec := h.gw.Recordings()[0]
	if !strings.HasPrefix(rec.Name, "recordings/") || !strings.HasSuffix(rec.Name, "/5551000-"+br.ID) {
		t.Errorf("recording name = %q", rec.Name)
	}
	if rec.Format != "wav" || rec.MaxDuration != 600*time.Second {
		t.Errorf("recording options = %+v", rec)
	}

	snap := s.Snapshot()
	if snap.State != "Bridged" || snap.Manager != "Anna" || snap.Dialed != "201" || snap.Channels.Out == nil {
		t.Errorf("snapshot = %+v", snap)
	}

	// Operator hangs up.
	h.gw.Destroy(req.ChannelID)
	waitClosed(t, s.Done(), "session end")
	waitClosed(t, done, "Run return")

	ends := h.obs.ends()
	if len(ends) != 1 || !ends[0].answered || ends[0].cause != CauseNormalClearing {
		t.Fatalf("ends = %+v, want one answered normal clearing", ends)
	}
	if !h.gw.HungUp("in-1") {
		t.Error("incoming channel not hung up")
	}
	if !slices.Contains(h.gw.DestroyedBridges(), br.ID) {
		t.Error("bridge not destroyed")
	}
}

func TestCallerHangupEndsTalk(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	h.gw.Destroy("in-1")
	waitClosed(t, done, "Run return")

	if s.Cause() != CauseNormalClearing {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseNormalClearing)
	}
	out := h.gw.Originated()[0].ChannelID
	if !h.gw.HungUp(out) {
		t.Error("operator leg not hung up after caller left")
	}
}

func TestNoOperatorsOnline(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOffline, false)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointUnknown, false)

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s.Cause() != CauseNoOperatorsOnline {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseNoOperatorsOnline)
	}
	if len(h.gw.Bridges()) != 0 {
		t.Error("no bridge should be created")
	}
	if len(h.gw.Originated()) != 0 {
		t.Error("no leg should be originated")
	}
	if ends := h.obs.ends(); len(ends) != 1 || ends[0].answered {
		t.Errorf("ends = %+v", ends)
	}
}

func TestAllOperatorsBusyQueuesCaller(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, true)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, true)

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", h.queue.Len())
	}
	if s.State() != StateQueued || !s.Snapshot().Queued {
		t.Errorf("state = %v, want Queued", s.State())
	}
	if !h.gw.Held("in-1") {
		t.Error("caller should hear hold music")
	}
	if len(h.obs.ends()) != 0 {
		t.Error("queued session must not end")
	}
	h.obs.mu.Lock()
	queued := h.obs.queued
	h.obs.mu.Unlock()
	if queued != 1 {
		t.Errorf("PlacedToQueue calls = %d, want 1", queued)
	}

	s.End(CauseCallerHungUp)
	if h.queue.Len() != 0 {
		t.Error("ended session should leave the queue")
	}
}

func TestCallerHangsUpDuringRace(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, false)

	s := h.newSession("in-1", "5551000")
	done := start(t, s)

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Originated()) == 2 }, "two legs originated")

	h.gw.Destroy("in-1")
	waitClosed(t, done, "Run return")

	for _, req := range h.gw.Originated() {
		id := req.ChannelID
		gatewaytest.WaitUntil(t, waitTimeout, func() bool { return h.gw.HungUp(id) }, "leg "+id+" hung up")
		if req.Timeout != DefaultAllTimeout {
			t.Errorf("race leg timeout = %v, want %v", req.Timeout, DefaultAllTimeout)
		}
	}
	if len(h.gw.Bridges()) != 0 {
		t.Error("no bridge should be formed")
	}
	ends := h.obs.ends()
	if len(ends) != 1 || ends[0].cause != CauseCallerHungUp || ends[0].answered {
		t.Errorf("ends = %+v, want one unanswered caller hangup", ends)
	}
}

func TestRaceHasSingleWinner(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, false)
	h.gw.AddEndpoint("SIP", "203", gateway.EndpointOnline, false)

	s := h.newSession("in-1", "5551000")
	done := start(t, s)

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Originated()) == 3 }, "three legs originated")

	var wg sync.WaitGroup
	for _, req := range h.gw.Originated() {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.gw.Answer(req.ChannelID)
		}()
	}
	wg.Wait()

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	bridges := h.gw.Bridges()
	if len(bridges) != 1 || len(bridges[0].ChannelIDs) != 2 {
		t.Fatalf("bridges = %+v, want one bridge with two members", bridges)
	}
	winner := bridges[0].ChannelIDs[1]

	for _, req := range h.gw.Originated() {
		if req.ChannelID == winner {
			continue
		}
		id := req.ChannelID
		gatewaytest.WaitUntil(t, waitTimeout, func() bool { return h.gw.HungUp(id) }, "loser "+id+" hung up")
	}
	if h.gw.HungUp(winner) {
		t.Error("winning leg hung up while talking")
	}

	s.End(CauseNormalClearing)
	s.End(CauseNormalClearing)
	waitClosed(t, done, "Run return")

	if ends := h.obs.ends(); len(ends) != 1 || !ends[0].answered {
		t.Errorf("ends = %+v, want exactly one answered end", ends)
	}
}

func TestDTMFOverridesOperatorAndCutsPrompt(t *testing.T) {
	h := newHarness(t, operatorLookup("SIP/202"))
	h.gw.AutoFinishPlayback = false
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Plays()) == 1 }, "welcome prompt")
	if s.State() != StateIVR {
		t.Errorf("state = %v, want IVR", s.State())
	}

	h.gw.SendDTMF("in-1", "201")
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	plays := h.gw.Plays()
	if len(plays) != 1 || plays[0].Media != "sound:welcome" {
		t.Errorf("plays = %+v, want only the welcome prompt", plays)
	}
	if stopped := h.gw.Stopped(); len(stopped) != 1 || stopped[0] != plays[0].PlaybackID {
		t.Errorf("stopped playbacks = %v", stopped)
	}
	if got := s.Operator().Resource(); got != "201" {
		t.Errorf("operator = %q, want 201", got)
	}
	if first := h.gw.Originated()[0]; first.Endpoint != "SIP/201" {
		t.Errorf("first dial = %q, want SIP/201", first.Endpoint)
	}

	s.End(CauseNormalClearing)
	waitClosed(t, done, "Run return")
}

func TestDTMFOutsideIVRIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)

	s := h.newSession("in-1", "5551000")
	done := start(t, s)
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Originated()) == 1 }, "dialing")

	h.gw.SendDTMF("in-1", "205")
	time.Sleep(20 * time.Millisecond)
	if s.Operator() != nil {
		t.Errorf("operator = %+v, digits after IVR must be ignored", s.Operator())
	}

	h.gw.Destroy("in-1")
	waitClosed(t, done, "Run return")
}

func TestLocalCallerSkipsIVR(t *testing.T) {
	h := newHarness(t, nil)
	h.deps.Config.LocalPhones = []string{"100"}

	s := h.newSession("in-1", "100")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if plays := h.gw.Plays(); len(plays) != 0 {
		t.Errorf("local caller heard %d prompts", len(plays))
	}
	if s.Cause() != CauseNoOperatorsOnline {
		t.Errorf("cause = %q", s.Cause())
	}
}

func TestDirectoryFailureIsNonFatal(t *testing.T) {
	failing := directory.LookupFunc(func(ctx context.Context, caller string) (*directory.Operator, error) {
		return nil, &directory.ValidationError{Problems: []string{"phones missing"}}
	})
	h := newHarness(t, failing)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, false)
	h.gw.SetBehavior("202", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	if s.Operator() != nil {
		t.Error("operator should be absent after lookup failure")
	}
	s.End(CauseNormalClearing)
	waitClosed(t, done, "Run return")
}

func TestBusyResponsibleFallsBackToAll(t *testing.T) {
	h := newHarness(t, operatorLookup("sip:201@pbx.local"))
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, true)
	h.gw.AddEndpoint("SIP", "202", gateway.EndpointOnline, false)
	h.gw.SetBehavior("202", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	originated := h.gw.Originated()
	if len(originated) != 1 || originated[0].Endpoint != "SIP/202" {
		t.Errorf("originated = %+v, want only SIP/202", originated)
	}
	if s.Snapshot().Dialed != "202" {
		t.Errorf("dialed = %q", s.Snapshot().Dialed)
	}
	s.End(CauseNormalClearing)
	waitClosed(t, done, "Run return")
}

func TestResponsibleRejectFallsBackToAll(t *testing.T) {
	h := newHarness(t, operatorLookup("SIP/201"))
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Reject: true})

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One single dial, then one race leg, both rejected.
	if n := len(h.gw.Originated()); n != 2 {
		t.Errorf("originated %d legs, want 2", n)
	}
	if s.Cause() != CauseNobodyAnswers {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseNobodyAnswers)
	}
}

func TestOperatorsUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.EndpointsErr = errors.New("gateway down")

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Cause() != CauseOperatorsUnavailable {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseOperatorsUnavailable)
	}
}

func TestBridgeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.BridgeErr = errors.New("no bridge for you")
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Cause() != CauseBridgeFailed {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseBridgeFailed)
	}
	out := h.gw.Originated()[0].ChannelID
	if !h.gw.HungUp(out) {
		t.Error("operator leg not hung up after bridge failure")
	}
}

func TestRecordingFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.RecordErr = errors.New("disk full")
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	s := h.newSession("in-1", "5551000")
	done := start(t, s)
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged")

	h.gw.Destroy("in-1")
	waitClosed(t, done, "Run return")
	if s.Cause() != CauseNormalClearing {
		t.Errorf("cause = %q", s.Cause())
	}
}

func TestResumeDialsAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, true)

	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	head, ok := h.queue.Pop()
	if !ok || head != s {
		t.Fatal("session should be at the head of the queue")
	}

	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)
	h.gw.SetBehavior("201", gatewaytest.Behavior{Answer: true})

	resumed := make(chan struct{})
	go func() {
		defer close(resumed)
		s.Resume(context.Background())
	}()

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return s.State() == StateBridged }, "session bridged after resume")
	h.gw.Destroy("in-1")
	waitClosed(t, resumed, "Resume return")

	if ends := h.obs.ends(); len(ends) != 1 || !ends[0].answered {
		t.Errorf("ends = %+v", ends)
	}
}

func TestResumeAfterEndIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	s := h.newSession("in-1", "5551000")
	s.End(CauseCallerHungUp)

	s.Resume(context.Background())
	if len(h.gw.Originated()) != 0 {
		t.Error("ended session must not dial")
	}
}

func TestRunCancelledContextEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.AddEndpoint("SIP", "201", gateway.EndpointOnline, false)

	s := h.newSession("in-1", "5551000")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return len(h.gw.Originated()) == 1 }, "dialing")
	cancel()
	waitClosed(t, done, "Run return")

	if s.Cause() != CauseShutdown {
		t.Errorf("cause = %q, want %q", s.Cause(), CauseShutdown)
	}
	out := h.gw.Originated()[0].ChannelID
	gatewaytest.WaitUntil(t, waitTimeout, func() bool { return h.gw.HungUp(out) }, "leg hung up")
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, nil)
	s := h.newSession("in-1", "5551000")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestConcurrentEndIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	s := h.newSession("in-1", "5551000")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.End(CauseCallerHungUp)
		}()
	}
	wg.Wait()

	if ends := h.obs.ends(); len(ends) != 1 {
		t.Errorf("SessionEnded called %d times, want 1", len(ends))
	}
	if s.State() != StateEnded || !s.State().IsTerminal() {
		t.Errorf("state = %v", s.State())
	}
}

func TestRecordingName(t *testing.T) {
	at := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		caller string
		want   string
	}{
		{"5551000", "callrouter/2024/3/5/5551000-br-1"},
		{"", "callrouter/2024/3/5/unknown-br-1"},
	}
	for _, tt := range tests {
		if got := RecordingName("callrouter", at, tt.caller, "br-1"); got != tt.want {
			t.Errorf("RecordingName(%q) = %q, want %q", tt.caller, got, tt.want)
		}
	}
}

func TestDialErrorUnwrap(t *testing.T) {
	err := error(&DialError{Target: "201", Cause: fmt.Errorf("%w: endpoint gone", ErrBusy)})
	if !errors.Is(err, ErrBusy) {
		t.Error("DialError should unwrap to ErrBusy")
	}
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Target != "201" {
		t.Errorf("errors.As = %+v", dialErr)
	}
	if IsCanceled(err) {
		t.Error("busy is not a cancellation")
	}
	if !IsCanceled(&DialError{Cause: ErrDialCanceled}) {
		t.Error("IsCanceled(ErrDialCanceled) = false")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "Created"},
		{StateRoutingDecision, "RoutingDecision"},
		{StateIVR, "IVR"},
		{StateDialing, "Dialing"},
		{StateBridged, "Bridged"},
		{StateQueued, "Queued"},
		{StateEnded, "Ended"},
		{State(42), "Unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
