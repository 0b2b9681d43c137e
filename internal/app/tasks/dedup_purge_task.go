package tasks

import (
	"context"
	"fmt"
	"time"
)

// newDedupPurgeTask creates the task that deletes expired duplicate-guard
// records. Expired records are already inert for replay detection, so the
// purge only keeps the table from growing without bound.
func newDedupPurgeTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "dedup_purge")
	window := deps.Config.Ledger.DedupWindow

	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-window)

		purged, err := deps.Store.DeleteExpiredDuplicateRecords(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Duplicate record purge failed", "error", err)
			return fmt.Errorf("dedup purge failed: %w", err)
		}

		if purged > 0 {
			log.InfoContext(ctx, "Purged expired duplicate records", "purged", purged, "cutoff", cutoff)
		}
		return nil
	}
}
