package session

import (
	"context"
	"path"
	"strconv"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// RecordingName builds the recording path for a bridge:
// <root>/<year>/<month>/<day>/<caller or "unknown">-<bridge id>.
// Month and day are not zero-padded.
func RecordingName(root string, at time.Time, caller, bridgeID string) string {
	if caller == "" {
		caller = "unknown"
	}
	return path.Join(
		root,
		strconv.Itoa(at.Year()),
		strconv.Itoa(int(at.Month())),
		strconv.Itoa(at.Day()),
		caller+"-"+bridgeID,
	)
}

// startRecording records the bridge. Failures are logged only.
func (s *Session) startRecording(ctx context.Context, bridgeID string) {
	if s.cfg.DisableRecording {
		return
	}
	opts := gateway.RecordOptions{
		Name:        RecordingName(s.cfg.RecordingRoot, time.Now(), s.incoming.Caller.Number, bridgeID),
		Format:      s.cfg.RecordingFormat,
		MaxDuration: s.cfg.RecordingMaxDuration,
	}
	s.logger.Info("[Session] Recording call", "name", opts.Name+"."+opts.Format)
	if err := s.gw.Record(ctx, bridgeID, opts); err != nil {
		s.logger.Warn("[Session] Failed to start recording", "bridge_id", bridgeID, "error", err)
	}
}
