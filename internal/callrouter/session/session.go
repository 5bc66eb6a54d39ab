// Package session implements the per-call routing engine: the session state
// machine, the IVR stage and the concurrent operator dial race.
package session

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	types "github.com/sebas/callrouter/api/types/v1"
	"github.com/sebas/callrouter/internal/callrouter/directory"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
	"github.com/sebas/callrouter/internal/callrouter/queue"
)

// Observer receives session lifecycle notifications. Methods are called
// without session locks held and must not block.
type Observer interface {
	SessionStarted(s *Session)
	ChannelConnected(s *Session)
	PlacedToQueue(s *Session)
	SessionEnded(s *Session, answered bool, cause Cause)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SessionStarted(*Session)            {}
func (NopObserver) ChannelConnected(*Session)          {}
func (NopObserver) PlacedToQueue(*Session)             {}
func (NopObserver) SessionEnded(*Session, bool, Cause) {}

// Deps are the collaborators shared by every session.
type Deps struct {
	Gateway   gateway.Gateway
	Directory directory.Lookup
	Queue     *queue.HoldQueue[*Session]
	Observer  Observer
	Logger    *slog.Logger
	Config    Config
}

// Session drives one inbound call from arrival to teardown.
type Session struct {
	id       string
	incoming gateway.Channel
	created  time.Time

	cfg      Config
	gw       gateway.Gateway
	dir      directory.Lookup
	queue    *queue.HoldQueue[*Session]
	obs      Observer
	logger   *slog.Logger
	dtmfCode *regexp.Regexp

	// ctx is cancelled when the session ends; every dial attempt and
	// prompt watches it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// claimed is closed once an operator leg wins the race.
	claimed chan struct{}

	incomingGone     chan struct{}
	incomingGoneOnce sync.Once

	mu          sync.Mutex
	started     bool
	state       State
	local       bool
	operator    *directory.Operator
	dtmf        string
	listening   bool
	interrupt   chan struct{}
	winner      string
	outgoing    *gateway.Channel
	incomingSub *gateway.Subscription
	outgoingSub *gateway.Subscription
	bridge      *gateway.Bridge
	dialed      string
	queued      bool
	ended       bool
	answered    bool
	talkStart   time.Time
	talkEnd     time.Time
	cause       Cause
}

// New creates a session for an inbound channel.
func New(deps Deps, incoming gateway.Channel) *Session {
	cfg := deps.Config.WithDefaults()
	if deps.Directory == nil {
		deps.Directory = directory.Static()
	}
	if deps.Queue == nil {
		deps.Queue = queue.New[*Session]()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           id,
		incoming:     incoming,
		created:      time.Now(),
		cfg:          cfg,
		gw:           deps.Gateway,
		dir:          deps.Directory,
		queue:        deps.Queue,
		obs:          deps.Observer,
		logger:       deps.Logger.With("session_id", id, "channel_id", incoming.ID),
		dtmfCode:     regexp.MustCompile(`^` + regexp.QuoteMeta(cfg.OperatorPrefix) + `\d\d$`),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		claimed:      make(chan struct{}),
		incomingGone: make(chan struct{}),
		state:        StateCreated,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// IncomingChannel returns the caller's channel.
func (s *Session) IncomingChannel() gateway.Channel { return s.incoming }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Operator returns the resolved operator, if any.
func (s *Session) Operator() *directory.Operator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operator
}

// Ended reports whether the session has ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Cause returns the end cause, empty while the session is live.
func (s *Session) Cause() Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Run starts the session: it watches the caller's channel and routes the
// call. It returns once the session has ended or has been parked in the
// hold queue. Cancelling ctx ends the session.
func (s *Session) Run(ctx context.Context) error {
	if s.incoming.ID == "" {
		return ErrNoChannel
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.End(CauseShutdown) })
	defer stop()

	s.logger.Info("[Session] Session started",
		"caller", s.incoming.Caller.Number,
		"caller_name", s.incoming.Caller.Name,
	)
	s.obs.SessionStarted(s)

	sub := s.gw.Subscribe(gateway.All(
		gateway.ForChannel(s.incoming.ID),
		gateway.OfType(gateway.StasisEnd, gateway.ChannelDestroyed, gateway.DTMFReceived),
	))

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.incomingSub = sub
	s.local = s.cfg.IsLocal(s.incoming.Caller.Number)
	s.state = StateRoutingDecision
	s.mu.Unlock()

	go s.watchIncoming(sub)

	s.route()
	s.awaitTeardown()
	return nil
}

// Resume retries a queued session after the retry delay.
func (s *Session) Resume(ctx context.Context) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queued = false
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.End(CauseShutdown) })
	defer stop()

	s.logger.Info("[Session] Popped from queue, retrying", "delay", s.cfg.RetryDelay)

	timer := time.NewTimer(s.cfg.RetryDelay)
	select {
	case <-s.ctx.Done():
		timer.Stop()
		s.awaitTeardown()
		return
	case <-timer.C:
	}

	s.dialToAll()
	s.awaitTeardown()
}

// awaitTeardown waits for an End running on another goroutine to finish.
func (s *Session) awaitTeardown() {
	if s.Ended() {
		<-s.done
	}
}

// End tears the session down. It is idempotent and safe from any
// goroutine and any state.
func (s *Session) End(cause Cause) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = StateEnded
	s.cause = cause
	s.listening = false
	inSub, outSub := s.incomingSub, s.outgoingSub
	outgoing, bridge := s.outgoing, s.bridge
	answered := s.answered
	if answered {
		s.talkEnd = time.Now()
	}
	if s.queued {
		s.queued = false
		s.queue.Remove(s.id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
	defer cancel()

	if inSub != nil {
		inSub.Cancel()
	}
	s.hangup(ctx, s.incoming.ID, "incoming")

	if outgoing != nil {
		if outSub != nil {
			outSub.Cancel()
		}
		s.hangup(ctx, outgoing.ID, "outgoing")
	}

	s.cancel()

	if bridge != nil {
		if err := s.gw.DestroyBridge(ctx, bridge.ID); err != nil && !gateway.IsNotFound(err) {
			s.logger.Warn("[Session] Failed to destroy bridge", "bridge_id", bridge.ID, "error", err)
		}
	}

	s.logger.Info("[Session] Session ended",
		"cause", string(cause),
		"answered", answered,
		"age", time.Since(s.created).Round(time.Millisecond),
	)
	s.obs.SessionEnded(s, answered, cause)
	close(s.done)
}

func (s *Session) hangup(ctx context.Context, channelID, leg string) {
	err := s.gw.Hangup(ctx, channelID)
	switch {
	case err == nil:
		s.logger.Debug("[Session] Channel hung up", "leg", leg, "target", channelID)
	case gateway.IsNotFound(err):
		s.logger.Debug("[Session] Channel already gone", "leg", leg, "target", channelID)
	default:
		s.logger.Warn("[Session] Hangup failed", "leg", leg, "target", channelID, "error", err)
	}
}

func (s *Session) watchIncoming(sub *gateway.Subscription) {
	for e := range sub.Events() {
		switch e.Type {
		case gateway.DTMFReceived:
			s.handleDigit(e.Digit)
		case gateway.StasisEnd, gateway.ChannelDestroyed:
			s.incomingGoneOnce.Do(func() { close(s.incomingGone) })

			s.mu.Lock()
			bridged := s.state == StateBridged
			s.mu.Unlock()
			if !bridged {
				s.End(CauseCallerHungUp)
			}
			return
		}
	}
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.Session{
		ID:     s.id,
		State:  s.state.String(),
		Dialed: s.dialed,
		Queued: s.queued,
		Cause:  string(s.cause),
		Channels: types.Channels{
			In: channelInfo(&s.incoming),
		},
	}
	if s.operator != nil {
		snap.Manager = s.operator.Manager
	}
	if s.outgoing != nil {
		snap.Channels.Out = channelInfo(s.outgoing)
	}
	if !s.talkStart.IsZero() {
		snap.TalkStart = s.talkStart.UTC().Format(time.RFC3339)
		end := time.Now()
		if !s.talkEnd.IsZero() {
			end = s.talkEnd
		}
		snap.DurationMs = end.Sub(s.talkStart).Milliseconds()
	}
	return snap
}

func channelInfo(ch *gateway.Channel) *types.ChannelInfo {
	return &types.ChannelInfo{
		ID:     ch.ID,
		Name:   ch.Name,
		Caller: types.CallerID{Name: ch.Caller.Name, Number: ch.Caller.Number},
	}
}
