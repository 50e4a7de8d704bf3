package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner sweeps expired entries.
type Cleaner interface {
	Cleanup() int
}

// RunJanitor calls c.Cleanup every interval until ctx is cancelled. The
// engine never schedules its own sweeps; hosts that want them run this in a
// goroutine.
func RunJanitor(ctx context.Context, c Cleaner, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Cache janitor stopped")
			return
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				logger.Debug("Expired cache entries swept", zap.Int("evicted", n))
			}
		}
	}
}
