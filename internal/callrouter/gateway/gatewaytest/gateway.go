// Package gatewaytest provides a scripted in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// Behavior scripts how an operator endpoint reacts to an originate.
type Behavior struct {
	// Answer makes the leg enter the application after Delay.
	Answer bool
	// Reject destroys the leg after Delay without answering.
	Reject bool
	Delay  time.Duration
}

// Play records a media playback request.
type Play struct {
	ChannelID  string
	PlaybackID string
	Media      string
}

// Gateway is a gateway.Gateway with scripted endpoints. Behaviors without
// Answer or Reject leave the leg ringing until Answer or Destroy is called.
type Gateway struct {
	bus *gateway.Bus

	mu        sync.Mutex
	endpoints map[string]*gateway.Endpoint
	behaviors map[string]Behavior
	live      map[string]*gateway.Channel
	playbacks map[string]string

	originated []gateway.OriginateRequest
	hungUp     []string
	ringing    map[string]bool
	held       []string
	plays      []Play
	stopped    []string
	bridges    map[string]*gateway.Bridge
	destroyed  []string
	recordings []gateway.RecordOptions

	// AutoFinishPlayback completes every playback right after it starts.
	AutoFinishPlayback bool
	// EndpointsErr is returned by Endpoints when set.
	EndpointsErr error
	// RecordErr is returned by Record when set.
	RecordErr error
	// BridgeErr is returned by CreateBridge when set.
	BridgeErr error
}

// New creates an empty scripted gateway.
func New() *Gateway {
	return &Gateway{
		bus:                gateway.NewBus(nil),
		endpoints:          make(map[string]*gateway.Endpoint),
		behaviors:          make(map[string]Behavior),
		live:               make(map[string]*gateway.Channel),
		playbacks:          make(map[string]string),
		ringing:            make(map[string]bool),
		bridges:            make(map[string]*gateway.Bridge),
		AutoFinishPlayback: true,
	}
}

var _ gateway.Gateway = (*Gateway)(nil)

// AddEndpoint registers an endpoint. busy attaches a placeholder channel.
func (g *Gateway) AddEndpoint(tech, resource string, state gateway.EndpointState, busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ep := &gateway.Endpoint{Technology: tech, Resource: resource, State: state}
	if busy {
		ep.ChannelIDs = []string{"busy-" + resource}
	}
	g.endpoints[tech+"/"+resource] = ep
}

// SetBusy attaches or clears the placeholder channel of an endpoint.
func (g *Gateway) SetBusy(tech, resource string, busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep, ok := g.endpoints[tech+"/"+resource]
	if !ok {
		return
	}
	ep.ChannelIDs = nil
	if busy {
		ep.ChannelIDs = []string{"busy-" + resource}
	}
}

// SetBehavior scripts the reaction of resource to originates.
func (g *Gateway) SetBehavior(resource string, b Behavior) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.behaviors[resource] = b
}

// Inbound creates a live inbound channel and announces it.
func (g *Gateway) Inbound(channelID, number string) *gateway.Channel {
	ch := &gateway.Channel{
		ID:     channelID,
		Name:   "SIP/trunk-" + channelID,
		State:  "Ring",
		Caller: gateway.CallerID{Number: number},
	}
	g.mu.Lock()
	g.live[channelID] = ch
	g.mu.Unlock()

	g.bus.Publish(gateway.Event{Type: gateway.StasisStart, Timestamp: time.Now(), Channel: ch})
	return ch
}

// Answer makes a ringing outbound leg enter the application.
func (g *Gateway) Answer(channelID string) {
	g.mu.Lock()
	ch, ok := g.live[channelID]
	var args []string
	for _, req := range g.originated {
		if req.ChannelID == channelID && req.AppArgs != "" {
			args = []string{req.AppArgs}
		}
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	g.bus.Publish(gateway.Event{Type: gateway.StasisStart, Timestamp: time.Now(), Channel: ch, Args: args})
}

// Destroy tears a channel down from the remote side.
func (g *Gateway) Destroy(channelID string) {
	g.mu.Lock()
	ch, ok := g.live[channelID]
	delete(g.live, channelID)
	g.mu.Unlock()
	if !ok {
		return
	}
	g.bus.Publish(gateway.Event{Type: gateway.StasisEnd, Timestamp: time.Now(), Channel: ch})
	g.bus.Publish(gateway.Event{Type: gateway.ChannelDestroyed, Timestamp: time.Now(), Channel: ch})
}

// SendDTMF delivers digits on a channel.
func (g *Gateway) SendDTMF(channelID, digits string) {
	g.mu.Lock()
	ch, ok := g.live[channelID]
	g.mu.Unlock()
	if !ok {
		return
	}
	for _, d := range digits {
		g.bus.Publish(gateway.Event{Type: gateway.DTMFReceived, Timestamp: time.Now(), Channel: ch, Digit: string(d)})
	}
}

// FinishPlayback completes a playback.
func (g *Gateway) FinishPlayback(playbackID string) {
	g.mu.Lock()
	_, ok := g.playbacks[playbackID]
	delete(g.playbacks, playbackID)
	g.mu.Unlock()
	if ok {
		g.bus.Publish(gateway.Event{Type: gateway.PlaybackFinished, Timestamp: time.Now(), PlaybackID: playbackID})
	}
}

// Publish injects an arbitrary event.
func (g *Gateway) Publish(e gateway.Event) {
	g.bus.Publish(e)
}

// --- gateway.Gateway ---

func (g *Gateway) Endpoints(ctx context.Context, tech string) ([]gateway.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.EndpointsErr != nil {
		return nil, g.EndpointsErr
	}
	var out []gateway.Endpoint
	for _, ep := range g.endpoints {
		if ep.Technology == tech {
			out = append(out, *ep)
		}
	}
	return out, nil
}

func (g *Gateway) Endpoint(ctx context.Context, tech, resource string) (*gateway.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep, ok := g.endpoints[tech+"/"+resource]
	if !ok {
		return nil, fmt.Errorf("endpoint %s/%s: %w", tech, resource, gateway.ErrNotFound)
	}
	cp := *ep
	return &cp, nil
}

func (g *Gateway) Originate(ctx context.Context, req gateway.OriginateRequest) (*gateway.Channel, error) {
	_, resource, _ := gateway.SplitAddress(req.Endpoint)
	ch := &gateway.Channel{
		ID:     req.ChannelID,
		Name:   req.Endpoint + "-" + req.ChannelID,
		State:  "Down",
		Caller: gateway.CallerID{Number: req.CallerID},
	}

	g.mu.Lock()
	g.originated = append(g.originated, req)
	g.live[ch.ID] = ch
	b := g.behaviors[resource]
	g.mu.Unlock()

	switch {
	case b.Answer:
		go func() {
			time.Sleep(b.Delay)
			g.Answer(ch.ID)
		}()
	case b.Reject:
		go func() {
			time.Sleep(b.Delay)
			g.Destroy(ch.ID)
		}()
	}
	return ch, nil
}

func (g *Gateway) Ring(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[channelID]; !ok {
		return gateway.ErrNotFound
	}
	g.ringing[channelID] = true
	return nil
}

func (g *Gateway) StopRing(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[channelID]; !ok {
		return gateway.ErrNotFound
	}
	g.ringing[channelID] = false
	return nil
}

func (g *Gateway) StartHold(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[channelID]; !ok {
		return gateway.ErrNotFound
	}
	g.held = append(g.held, channelID)
	return nil
}

func (g *Gateway) Play(ctx context.Context, channelID, playbackID, media string) error {
	g.mu.Lock()
	if _, ok := g.live[channelID]; !ok {
		g.mu.Unlock()
		return gateway.ErrNotFound
	}
	g.plays = append(g.plays, Play{ChannelID: channelID, PlaybackID: playbackID, Media: media})
	g.playbacks[playbackID] = channelID
	auto := g.AutoFinishPlayback
	g.mu.Unlock()

	if auto {
		go g.FinishPlayback(playbackID)
	}
	return nil
}

func (g *Gateway) StopPlayback(ctx context.Context, playbackID string) error {
	g.mu.Lock()
	_, ok := g.playbacks[playbackID]
	g.stopped = append(g.stopped, playbackID)
	g.mu.Unlock()
	if !ok {
		return gateway.ErrNotFound
	}
	g.FinishPlayback(playbackID)
	return nil
}

func (g *Gateway) Hangup(ctx context.Context, channelID string) error {
	g.mu.Lock()
	ch, ok := g.live[channelID]
	if ok {
		delete(g.live, channelID)
		g.hungUp = append(g.hungUp, channelID)
	}
	g.mu.Unlock()
	if !ok {
		return gateway.ErrNotFound
	}
	g.bus.Publish(gateway.Event{Type: gateway.StasisEnd, Timestamp: time.Now(), Channel: ch})
	g.bus.Publish(gateway.Event{Type: gateway.ChannelDestroyed, Timestamp: time.Now(), Channel: ch})
	return nil
}

func (g *Gateway) CreateBridge(ctx context.Context) (*gateway.Bridge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.BridgeErr != nil {
		return nil, g.BridgeErr
	}
	br := &gateway.Bridge{ID: uuid.NewString(), BridgeType: "mixing"}
	g.bridges[br.ID] = br
	return br, nil
}

func (g *Gateway) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	br, ok := g.bridges[bridgeID]
	if !ok {
		return gateway.ErrNotFound
	}
	br.ChannelIDs = append(br.ChannelIDs, channelID)
	return nil
}

func (g *Gateway) DestroyBridge(ctx context.Context, bridgeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.bridges[bridgeID]; !ok {
		return gateway.ErrNotFound
	}
	g.destroyed = append(g.destroyed, bridgeID)
	return nil
}

func (g *Gateway) Record(ctx context.Context, bridgeID string, opts gateway.RecordOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RecordErr != nil {
		return g.RecordErr
	}
	g.recordings = append(g.recordings, opts)
	return nil
}

func (g *Gateway) Subscribe(filter gateway.Filter) *gateway.Subscription {
	return g.bus.Subscribe(filter)
}

// --- inspection ---

// Originated returns the originate requests seen so far.
func (g *Gateway) Originated() []gateway.OriginateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.OriginateRequest(nil), g.originated...)
}

// HungUp reports whether channelID was hung up through the gateway API.
func (g *Gateway) HungUp(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.hungUp {
		if id == channelID {
			return true
		}
	}
	return false
}

// Ringing reports the ring indication state of a channel.
func (g *Gateway) Ringing(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ringing[channelID]
}

// Held reports whether hold music was started on channelID.
func (g *Gateway) Held(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.held {
		if id == channelID {
			return true
		}
	}
	return false
}

// Plays returns the playback requests seen so far.
func (g *Gateway) Plays() []Play {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Play(nil), g.plays...)
}

// Stopped returns the playback ids that were stopped.
func (g *Gateway) Stopped() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.stopped...)
}

// Bridges returns copies of every bridge created.
func (g *Gateway) Bridges() []gateway.Bridge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Bridge, 0, len(g.bridges))
	for _, br := range g.bridges {
		cp := *br
		cp.ChannelIDs = append([]string(nil), br.ChannelIDs...)
		out = append(out, cp)
	}
	return out
}

// DestroyedBridges returns the ids of destroyed bridges.
func (g *Gateway) DestroyedBridges() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.destroyed...)
}

// Recordings returns the recordings started so far.
func (g *Gateway) Recordings() []gateway.RecordOptions {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.RecordOptions(nil), g.recordings...)
}

// Subscribers returns the number of live event subscriptions.
func (g *Gateway) Subscribers() int {
	return g.bus.Len()
}

// Close shuts the event bus down.
func (g *Gateway) Close() {
	g.bus.Close()
}

// WaitUntil polls cond until it holds or the timeout elapses.
func WaitUntil(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
