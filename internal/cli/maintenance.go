package cli

import (
	"context"
	"time"
)

// runMaintenance checkpoints the store every interval and refreshes the size
// and session cache gauges until ctx is done.
func runMaintenance(ctx context.Context, rt *runtime, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger := rt.logger.With().Str("component", "maintenance").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maintainOnce(ctx, rt)
			logger.Debug().Msg("store maintenance complete")
		}
	}
}

func maintainOnce(ctx context.Context, rt *runtime) {
	if rt.metrics != nil {
		stats := rt.engine.SessionCacheStats()
		rt.metrics.SetSessionCache(stats.HitRate(), stats.Evictions+stats.Expirations)
	}
	if err := rt.store.Maintain(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("store maintenance failed")
	}
	size, err := rt.store.DBSizeBytes(ctx)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("failed to read database size")
		return
	}
	if rt.metrics != nil {
		rt.metrics.SetDBSize(size)
	}
}
