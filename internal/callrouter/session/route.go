package session

// route resolves the responsible operator, runs the IVR for external
// callers and proceeds to dialing.
func (s *Session) route() {
	op, err := s.dir.Lookup(s.ctx, s.incoming.Caller.Number)
	if err != nil {
		s.logger.Warn("[Session] Directory lookup failed, routing without operator",
			"caller", s.incoming.Caller.Number,
			"error", err,
		)
		op = nil
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.operator = op
	local := s.local
	s.mu.Unlock()

	s.logger.Info("[Session] Routing decision",
		"operator", op.Resource(),
		"local", local,
	)

	if !local {
		s.runIVR()
	}
	s.proceedToDial()
}

// proceedToDial rings the caller and dials the responsible operator,
// falling back to every available operator.
func (s *Session) proceedToDial() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.state = StateDialing
	op := s.operator
	s.mu.Unlock()

	if err := s.gw.Ring(s.ctx, s.incoming.ID); err != nil {
		s.logger.Warn("[Session] Failed to ring caller", "error", err)
	}

	if resource := op.Resource(); resource != "" {
		err := s.dialToOne(resource, s.cfg.OneTimeout)
		if err == nil || s.Ended() {
			return
		}
		s.logger.Info("[Session] Responsible operator not reached, dialing all",
			"operator", resource,
			"reason", err,
		)
	}
	s.dialToAll()
}
