package jobs

import (
	"context"
	"errors"
	"time"
)

var errMissingSchema = errors.New("task has no extraction schema")

// RetentionStats captures what one cleanup removed.
type RetentionStats struct {
	CacheEntriesCleared int   `json:"cacheEntriesCleared"`
	RunsDeleted         int64 `json:"runsDeleted"`
}

// Cleanup drops expired cache entries and runs older than the configured
// retention so neither grows without bound.
func (r *Rescraper) Cleanup(ctx context.Context, now time.Time) RetentionStats {
	var stats RetentionStats
	if r.cache != nil {
		stats.CacheEntriesCleared = r.cache.ClearExpired(ctx)
	}

	if days := r.cfg.Worker.RunRetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		n, err := r.store.DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error("run retention failed", "error", err)
		}
		stats.RunsDeleted = n
	}

	if stats.CacheEntriesCleared > 0 || stats.RunsDeleted > 0 {
		r.logger.Info("retention cleanup", "cache_entries", stats.CacheEntriesCleared, "runs", stats.RunsDeleted)
	}
	return stats
}
