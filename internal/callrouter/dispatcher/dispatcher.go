// Package dispatcher turns inbound gateway channels into call sessions,
// tracks live sessions by channel id and serves the hold queue.
package dispatcher

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
	"github.com/sebas/callrouter/internal/callrouter/directory"
	"github.com/sebas/callrouter/internal/callrouter/events"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
	"github.com/sebas/callrouter/internal/callrouter/queue"
	"github.com/sebas/callrouter/internal/callrouter/session"
	"github.com/sebas/callrouter/internal/callrouter/store"
)

// DialOutEvent is the user event name the dialplan raises for outbound dials.
const DialOutEvent = "DialOut"

// Config configures the dispatcher.
type Config struct {
	Session session.Config
	// NodeID tags published events.
	NodeID string
	// RecentTTL is how long ended sessions stay visible. Default: 10m.
	RecentTTL time.Duration
}

// Dispatcher owns the session registry and the hold queue.
type Dispatcher struct {
	cfg       Config
	gw        gateway.Gateway
	lookup    directory.Lookup
	queue     *queue.HoldQueue[*session.Session]
	publisher events.Publisher
	builder   *events.Builder
	logger    *slog.Logger
	recent    *store.TTLStore[string, types.Session]

	mu       sync.RWMutex
	sessions map[string]*session.Session
	runCtx   context.Context
	total    int
	answered int
	causes   map[string]int

	wg sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config, gw gateway.Gateway, lookup directory.Lookup, publisher events.Publisher, logger *slog.Logger) *Dispatcher {
	if cfg.RecentTTL == 0 {
		cfg.RecentTTL = 10 * time.Minute
	}
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Session = cfg.Session.WithDefaults()

	return &Dispatcher{
		cfg:       cfg,
		gw:        gw,
		lookup:    lookup,
		queue:     queue.New[*session.Session](),
		publisher: publisher,
		builder:   events.NewBuilder(cfg.NodeID),
		logger:    logger,
		recent:    store.NewTTLStore[string, types.Session](time.Minute),
		sessions:  make(map[string]*session.Session),
		runCtx:    context.Background(),
		causes:    make(map[string]int),
	}
}

// Run consumes gateway events until ctx is cancelled, then ends every
// live session.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()

	sub := d.gw.Subscribe(gateway.OfType(gateway.StasisStart, gateway.UserEvent))
	defer sub.Cancel()

	d.logger.Info("[Dispatcher] Waiting for calls", "app", d.cfg.Session.App)

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				d.Shutdown()
				return nil
			}
			d.HandleEvent(e)
		case <-ctx.Done():
			d.Shutdown()
			return nil
		}
	}
}

// HandleEvent routes one gateway event.
func (d *Dispatcher) HandleEvent(e gateway.Event) {
	switch e.Type {
	case gateway.StasisStart:
		if len(e.Args) > 0 && e.Args[0] == d.cfg.Session.OperatorLegTag {
			return
		}
		d.handleIncoming(e)
	case gateway.UserEvent:
		if e.EventName == DialOutEvent {
			d.handleDialOut(e)
		}
	}
}

func (d *Dispatcher) handleIncoming(e gateway.Event) {
	if e.Channel == nil || e.Channel.ID == "" {
		d.logger.Warn("[Dispatcher] StasisStart without channel")
		return
	}

	d.mu.Lock()
	if _, exists := d.sessions[e.Channel.ID]; exists {
		d.mu.Unlock()
		d.logger.Debug("[Dispatcher] Duplicate StasisStart ignored", "channel_id", e.Channel.ID)
		return
	}
	s := session.New(session.Deps{
		Gateway:   d.gw,
		Directory: d.lookup,
		Queue:     d.queue,
		Observer:  d,
		Logger:    d.logger,
		Config:    d.cfg.Session,
	}, *e.Channel)
	d.sessions[e.Channel.ID] = s
	d.total++
	ctx := d.runCtx
	d.mu.Unlock()

	d.logger.Info("[Dispatcher] Incoming call",
		"channel_id", e.Channel.ID,
		"caller", e.Channel.Caller.Number,
		"caller_name", e.Channel.Caller.Name,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := s.Run(ctx); err != nil {
			d.logger.Error("[Dispatcher] Session failed to start",
				"session_id", s.ID(),
				"channel_id", e.Channel.ID,
				"error", err,
			)
			d.forget(s)
			d.publisher.PublishAsync(d.builder.SessionEnded(s.Snapshot()).Cause(err.Error()).Build())
		}
	}()
}

func (d *Dispatcher) handleDialOut(e gateway.Event) {
	dial := types.DialOut{
		State: e.UserData["state"],
		Phone: e.UserData["phone"],
		To:    e.UserData["to"],
	}
	if e.Channel != nil {
		dial.ChannelID = e.Channel.ID
		dial.Name = e.Channel.Name
	}
	d.logger.Info("[Dispatcher] Dial out", "phone", dial.Phone, "to", dial.To)
	d.publisher.PublishAsync(d.builder.DialOut(dial))
}

// forget drops a session from the registry and the queue.
func (d *Dispatcher) forget(s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := s.IncomingChannel().ID
	if cur, ok := d.sessions[id]; ok && cur == s {
		delete(d.sessions, id)
	}
	d.queue.Remove(s.ID())
}

// --- session.Observer ---

func (d *Dispatcher) SessionStarted(s *session.Session) {
	d.publisher.PublishAsync(d.builder.SessionCreated(s.Snapshot()))
}

func (d *Dispatcher) ChannelConnected(s *session.Session) {
	d.publisher.PublishAsync(d.builder.SessionTalking(s.Snapshot()))
}

func (d *Dispatcher) PlacedToQueue(s *session.Session) {
	d.logger.Info("[Dispatcher] Session queued", "session_id", s.ID(), "queue_length", d.queue.Len())
	d.publisher.PublishAsync(d.builder.SessionQueued(s.Snapshot()))
}

func (d *Dispatcher) SessionEnded(s *session.Session, answered bool, cause session.Cause) {
	d.forget(s)

	snap := s.Snapshot()
	d.recent.Set(snap.ID, snap, d.cfg.RecentTTL)

	d.mu.Lock()
	d.causes[string(cause)]++
	if answered {
		d.answered++
	}
	ctx := d.runCtx
	d.mu.Unlock()

	d.publisher.PublishAsync(d.builder.SessionEnded(snap).Answered(answered).Cause(string(cause)).Build())

	if !answered {
		return
	}
	next, ok := d.queue.Pop()
	if !ok {
		return
	}
	d.logger.Info("[Dispatcher] Operator freed, resuming queued caller",
		"session_id", next.ID(),
		"caller", next.IncomingChannel().Caller.Number,
	)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		next.Resume(ctx)
	}()
}

// --- queries ---

// Session returns the live session for an incoming channel id.
func (d *Dispatcher) Session(channelID string) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[channelID]
	return s, ok
}

// Len returns the number of live sessions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Snapshots returns views of every live session, oldest channel first.
func (d *Dispatcher) Snapshots() []types.Session {
	d.mu.RLock()
	list := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		list = append(list, s)
	}
	d.mu.RUnlock()

	out := make([]types.Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	slices.SortFunc(out, func(a, b types.Session) int {
		return compareIDs(a.Channels.In, b.Channels.In)
	})
	return out
}

// Recent returns snapshots of recently ended sessions.
func (d *Dispatcher) Recent() []types.Session {
	return d.recent.Values()
}

// Queue returns the queued sessions in pop order.
func (d *Dispatcher) Queue() []types.Session {
	items := d.queue.Items()
	out := make([]types.Session, len(items))
	for i, s := range items {
		out[i] = s.Snapshot()
	}
	return out
}

// Stats returns session counters.
func (d *Dispatcher) Stats() types.StatsResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()

	causes := make(map[string]int, len(d.causes))
	for k, v := range d.causes {
		causes[k] = v
	}
	return types.StatsResponse{
		TotalSessions:    d.total,
		ActiveSessions:   len(d.sessions),
		QueuedSessions:   d.queue.Len(),
		AnsweredSessions: d.answered,
		EndCauses:        causes,
	}
}

// Shutdown ends every live session and waits for their goroutines.
func (d *Dispatcher) Shutdown() {
	d.mu.RLock()
	live := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		live = append(live, s)
	}
	d.mu.RUnlock()

	if len(live) > 0 {
		d.logger.Info("[Dispatcher] Ending live sessions", "count", len(live))
	}
	for _, s := range live {
		s.End(session.CauseShutdown)
	}
	d.wg.Wait()
	d.recent.Close()
}

func compareIDs(a, b *types.ChannelInfo) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
