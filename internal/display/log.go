package display

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/tunetrack/pkg/pitch"
)

// Log is the headless consumer used when the websocket display is disabled.
// It drains src every interval and logs each estimate at Debug until ctx is
// cancelled.
func Log(ctx context.Context, src Source, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []pitch.Estimate
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		batch = src.Drain(batch[:0])
		for _, est := range batch {
			slog.Debug("detected pitch", "hz", est.Frequency, "rms", est.Level)
		}
	}
}
