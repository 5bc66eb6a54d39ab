package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// dialToOne calls a single operator endpoint. It returns nil once the call
// was connected and the talk has ended; otherwise a *DialError.
func (s *Session) dialToOne(resource string, timeout time.Duration) error {
	ctx := s.ctx
	if ctx.Err() != nil {
		return &DialError{Target: resource, Cause: ErrDialCanceled}
	}

	ep, err := s.gw.Endpoint(ctx, s.cfg.Technology, resource)
	if err != nil {
		return &DialError{Target: resource, Cause: fmt.Errorf("%w: %v", ErrBusy, err)}
	}
	if !ep.Available() {
		return &DialError{Target: resource, Cause: ErrBusy}
	}

	channelID := uuid.NewString()
	sub := s.gw.Subscribe(gateway.All(
		gateway.ForChannel(channelID),
		gateway.OfType(gateway.StasisStart, gateway.StasisEnd, gateway.ChannelDestroyed),
	))

	s.logger.Info("[Session] Originating operator leg",
		"target", ep.Address(),
		"operator_channel", channelID,
		"timeout", timeout,
	)
	ch, err := s.gw.Originate(ctx, gateway.OriginateRequest{
		ChannelID: channelID,
		Endpoint:  ep.Address(),
		App:       s.cfg.App,
		AppArgs:   s.cfg.OperatorLegTag,
		CallerID:  s.incoming.Caller.Number,
		Timeout:   timeout,
	})
	if err != nil {
		sub.Cancel()
		s.dropLeg(channelID)
		if ctx.Err() != nil {
			return &DialError{Target: resource, Cause: ErrDialCanceled}
		}
		return &DialError{Target: resource, Cause: fmt.Errorf("%w: %v", ErrOriginate, err)}
	}

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				s.dropLeg(channelID)
				return &DialError{Target: resource, Cause: ErrDialCanceled}
			}
			switch e.Type {
			case gateway.StasisEnd, gateway.ChannelDestroyed:
				sub.Cancel()
				return &DialError{Target: resource, Cause: ErrOperatorHungUp}
			case gateway.StasisStart:
				if e.Channel != nil {
					ch = e.Channel
				}
				won, ended := s.claim(ch, sub, resource)
				if !won {
					sub.Cancel()
					s.dropLeg(channelID)
					if ended {
						return &DialError{Target: resource, Cause: ErrDialCanceled}
					}
					s.logger.Debug("[Session] Lost race", "target", resource, "operator_channel", channelID)
					return &DialError{Target: resource, Cause: ErrLostRace}
				}
				return s.connect(resource, ch)
			}

		case <-s.claimed:
			sub.Cancel()
			s.dropLeg(channelID)
			return &DialError{Target: resource, Cause: ErrLostRace}

		case <-ctx.Done():
			sub.Cancel()
			s.dropLeg(channelID)
			return &DialError{Target: resource, Cause: ErrDialCanceled}
		}
	}
}

// claim marks ch as the winning operator leg. Only the first caller wins;
// the winner's subscription is handed to the session.
func (s *Session) claim(ch *gateway.Channel, sub *gateway.Subscription, resource string) (won, ended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false, true
	}
	if s.winner != "" {
		return s.winner == ch.ID, false
	}
	s.winner = ch.ID
	s.outgoing = ch
	s.outgoingSub = sub
	s.dialed = resource
	close(s.claimed)
	return true, false
}

// dropLeg hangs up a race leg that will not be bridged.
func (s *Session) dropLeg(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
	defer cancel()
	if err := s.gw.Hangup(ctx, channelID); err != nil && !gateway.IsNotFound(err) {
		s.logger.Warn("[Session] Failed to hang up operator leg", "operator_channel", channelID, "error", err)
	}
}

// connect bridges the caller with the winning operator leg, records the
// call and blocks until either side hangs up.
func (s *Session) connect(resource string, out *gateway.Channel) error {
	ctx := s.ctx
	s.logger.Info("[Session] Operator answered", "target", resource, "operator_channel", out.ID)

	if err := s.gw.StopRing(ctx, s.incoming.ID); err != nil && !gateway.IsNotFound(err) {
		s.logger.Warn("[Session] Failed to stop ringing", "error", err)
	}

	bridge, err := s.gw.CreateBridge(ctx)
	if err != nil {
		return s.bridgeFailed(resource, err)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.destroyBridge(bridge.ID)
		return &DialError{Target: resource, Cause: ErrDialCanceled}
	}
	s.bridge = bridge
	s.mu.Unlock()

	for _, id := range []string{s.incoming.ID, out.ID} {
		if err := s.gw.AddChannel(ctx, bridge.ID, id); err != nil {
			return s.bridgeFailed(resource, err)
		}
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return &DialError{Target: resource, Cause: ErrDialCanceled}
	}
	s.state = StateBridged
	s.answered = true
	s.talkStart = time.Now()
	s.mu.Unlock()

	s.logger.Info("[Session] Channels bridged", "bridge_id", bridge.ID, "target", resource)
	s.obs.ChannelConnected(s)

	s.startRecording(ctx, bridge.ID)
	s.waitForEndOfTalk()
	s.End(CauseNormalClearing)
	return nil
}

func (s *Session) bridgeFailed(resource string, err error) error {
	if s.Ended() {
		return &DialError{Target: resource, Cause: ErrDialCanceled}
	}
	s.logger.Error("[Session] Failed to bridge channels", "target", resource, "error", err)
	s.End(CauseBridgeFailed)
	return &DialError{Target: resource, Cause: fmt.Errorf("%w: %v", ErrBridge, err)}
}

func (s *Session) destroyBridge(bridgeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
	defer cancel()
	if err := s.gw.DestroyBridge(ctx, bridgeID); err != nil && !gateway.IsNotFound(err) {
		s.logger.Warn("[Session] Failed to destroy bridge", "bridge_id", bridgeID, "error", err)
	}
}

// waitForEndOfTalk blocks until the caller or the operator leaves.
func (s *Session) waitForEndOfTalk() {
	s.mu.Lock()
	sub := s.outgoingSub
	s.mu.Unlock()

	var outEvents <-chan gateway.Event
	if sub != nil {
		outEvents = sub.Events()
	}

	for {
		select {
		case <-s.incomingGone:
			s.logger.Info("[Session] Caller hung up")
			return
		case e, ok := <-outEvents:
			if !ok {
				return
			}
			if e.Type == gateway.StasisEnd || e.Type == gateway.ChannelDestroyed {
				s.logger.Info("[Session] Operator hung up")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// dialToAll rings every available operator at once. The first to answer is
// bridged; the rest are hung up.
func (s *Session) dialToAll() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.state = StateDialing
	s.mu.Unlock()

	endpoints, err := s.gw.Endpoints(s.ctx, s.cfg.Technology)
	if err != nil {
		if s.Ended() {
			return
		}
		s.logger.Error("[Session] Failed to list operator endpoints", "error", err)
		s.End(CauseOperatorsUnavailable)
		return
	}

	var online, available []gateway.Endpoint
	for _, ep := range endpoints {
		if !s.cfg.IsOperator(ep.Resource) || !ep.Online() {
			continue
		}
		online = append(online, ep)
		if ep.Available() {
			available = append(available, ep)
		}
	}

	switch {
	case len(available) > 0:
		s.logger.Info("[Session] Dialing available operators", "operators", resources(available))

		errs := make([]error, len(available))
		var wg sync.WaitGroup
		for i, ep := range available {
			i, ep := i, ep
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.dialToOne(ep.Resource, s.cfg.AllTimeout)
			}()
		}
		wg.Wait()

		s.mu.Lock()
		answered := s.answered
		s.mu.Unlock()
		if !answered {
			s.logger.Info("[Session] No operator answered", "results", errors.Join(errs...))
			s.End(CauseNobodyAnswers)
		}

	case len(online) > 0:
		s.logger.Info("[Session] All operators busy, placing caller on hold", "online", len(online))
		s.placeInQueue()

	default:
		s.End(CauseNoOperatorsOnline)
	}
}

// placeInQueue parks the caller in the hold queue with music on hold.
func (s *Session) placeInQueue() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.state = StateQueued
	s.queued = true
	if !s.queue.Enqueue(s) {
		s.logger.Warn("[Session] Session already queued")
	}
	s.mu.Unlock()

	s.obs.PlacedToQueue(s)

	if err := s.gw.StartHold(s.ctx, s.incoming.ID); err != nil && !s.Ended() {
		s.logger.Warn("[Session] Failed to start music on hold", "error", err)
	}
}

func resources(eps []gateway.Endpoint) string {
	names := make([]string, len(eps))
	for i, ep := range eps {
		names[i] = ep.Resource
	}
	return strings.Join(names, ",")
}
