package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gospelpress/internal/config"
	"gospelpress/internal/repository"
)

// StartCacheSweep periodically deletes stale scripture cache rows. The
// admin cleanup endpoint remains the primary path; this ticker ships
// disabled and exists for deployments that want it unattended.
func StartCacheSweep(ctx context.Context, cfg config.Config, store *repository.Store, logger *zap.SugaredLogger) {
	if !cfg.CacheSweepEnabled {
		return
	}
	interval := cfg.CacheSweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.CacheSweepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.ScriptureCacheTTL)
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				deleted, err := store.DeleteStaleScripture(tickCtx, cutoff)
				cancel()
				if err != nil {
					logger.Warnw("cache sweep error", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Infow("cache sweep removed stale entries", "deleted", deleted)
				}
			}
		}
	}()
}
