package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sebas/callrouter/internal/callrouter/directory"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// runIVR plays the welcome and routing prompts while collecting DTMF.
// An operator code entered by the caller stops the current prompt and
// skips the rest.
func (s *Session) runIVR() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.state = StateIVR
	s.dtmf = ""
	s.listening = true
	s.interrupt = make(chan struct{})
	interrupt := s.interrupt
	s.mu.Unlock()

	s.logger.Debug("[Session] Listening for DTMF")
	defer func() {
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		s.logger.Debug("[Session] Stopped listening for DTMF")
	}()

	for _, prompt := range []string{s.cfg.WelcomePrompt, s.cfg.RoutingPrompt} {
		if prompt == "" {
			continue
		}
		if !s.playPrompt(prompt, interrupt) {
			return
		}
	}
}

// playPrompt plays media to the caller and waits for it to finish. It
// returns false when the prompt was interrupted or the session ended.
func (s *Session) playPrompt(name string, interrupt <-chan struct{}) bool {
	select {
	case <-interrupt:
		return false
	case <-s.ctx.Done():
		return false
	default:
	}

	playbackID := uuid.NewString()
	sub := s.gw.Subscribe(gateway.All(
		gateway.ForPlayback(playbackID),
		gateway.OfType(gateway.PlaybackFinished),
	))
	defer sub.Cancel()

	s.logger.Info("[Session] Playing prompt", "prompt", name, "playback_id", playbackID)
	if err := s.gw.Play(s.ctx, s.incoming.ID, playbackID, promptMedia(name)); err != nil {
		s.logger.Error("[Session] Failed to play prompt", "prompt", name, "error", err)
		return !s.Ended()
	}

	select {
	case <-sub.Events():
		s.logger.Debug("[Session] Prompt finished", "prompt", name)
		return true
	case <-interrupt:
		ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
		defer cancel()
		if err := s.gw.StopPlayback(ctx, playbackID); err != nil && !gateway.IsNotFound(err) {
			s.logger.Warn("[Session] Failed to stop prompt", "playback_id", playbackID, "error", err)
		}
		s.logger.Info("[Session] Prompt interrupted", "prompt", name)
		return false
	case <-s.ctx.Done():
		return false
	}
}

// handleDigit collects a DTMF digit while prompts are playing. A complete
// operator code overrides the responsible operator and cuts the prompts.
func (s *Session) handleDigit(digit string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening || s.ended {
		return
	}
	s.dtmf += digit
	if !s.dtmfCode.MatchString(s.dtmf) {
		return
	}

	s.operator = &directory.Operator{
		Phones: []string{s.cfg.Technology + "/" + s.dtmf},
	}
	s.logger.Info("[Session] Operator selected by DTMF", "operator", s.dtmf)

	select {
	case <-s.interrupt:
	default:
		close(s.interrupt)
	}
}

func promptMedia(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return "sound:" + name
}
