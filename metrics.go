package main

import (
	"context"
	"log/slog"
	"time"

	"beam/relay/internal/core"
)

// RunMetrics logs registry stats every interval until ctx is canceled.
// Quiet periods with no rooms and no traffic are skipped.
func RunMetrics(ctx context.Context, registry *core.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms, participants, active, relayed := registry.Stats()
			if rooms > 0 || relayed > 0 {
				slog.Info("stats",
					"rooms", rooms,
					"participants", participants,
					"active_connections", active,
					"relayed", relayed,
					"relayed_per_sec", float64(relayed)/interval.Seconds())
			}
		}
	}
}
