package logpipeline

import (
	"context"
	"time"

	"coordinator/pkg/logging"
)

// DefaultRetention is the store's default record lifetime.
const DefaultRetention = 30 * 24 * time.Hour

// RetentionSweeper periodically deletes day partitions older than its
// configured retention window. The in-memory cache is unaffected — it
// evicts purely by LRU capacity.
type RetentionSweeper struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
}

// NewRetentionSweeper creates a sweeper running every interval (default
// 1h if zero), deleting partitions older than retention (default 30d).
func NewRetentionSweeper(store *Store, retention, interval time.Duration) *RetentionSweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{store: store, retention: retention, interval: interval}
}

func (r *RetentionSweeper) sweepOnce() {
	cutoff := time.Now().Add(-r.retention)
	removed, err := r.store.DeletePartitionsBefore(cutoff)
	if err != nil {
		logging.Error("LogPipeline", err, "Retention sweep failed")
		return
	}
	if removed > 0 {
		logging.Info("LogPipeline", "Retention sweep removed %d partition(s) older than %s", removed, cutoff.Format("2006-01-02"))
	}
}

// Run blocks, sweeping every interval until ctx is canceled.
func (r *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}
