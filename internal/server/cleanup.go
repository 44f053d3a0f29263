// cleanup.go - Background reclaimer for expired objects.
//
// Deletion order per object: disk first, then the remote copy
// (best effort), then the catalog row. A crash between steps leaves an
// orphan that the next run retries, never a dangling row whose file is
// gone while the row claims otherwise.
package server

import (
	"context"
	"errors"
	"log"
	"time"
)

type reclaimer struct {
	catalog       *catalog
	store         *objectStore
	backup        remoteBackup
	metrics       *Metrics
	interval      time.Duration
	retention     time.Duration
	requireBackup bool

	// retryBackoff is shortened in tests.
	retryBackoff []time.Duration
	now          func() time.Time
}

func newReclaimer(c *catalog, store *objectStore, backup remoteBackup, m *Metrics, interval, retention time.Duration, requireBackup bool) *reclaimer {
	return &reclaimer{
		catalog:       c,
		store:         store,
		backup:        backup,
		metrics:       m,
		interval:      interval,
		retention:     retention,
		requireBackup: requireBackup,
		retryBackoff:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		now:           time.Now,
	}
}

// run executes reclamation passes until ctx is cancelled. A failed
// pass never stops the loop; the next tick starts fresh.
func (r *reclaimer) run(ctx context.Context) {
	log.Printf("service=cleanup msg=%q interval=%s retention=%s",
		"starting", r.interval, r.retention)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.runWithRetry(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=cleanup msg=%q", "shutting_down")
			return
		case <-ticker.C:
			r.runWithRetry(ctx)
		}
	}
}

// runWithRetry retries a pass that failed on a transient database
// error, backing off between attempts. Non-transient failures and
// cancellation end the pass.
func (r *reclaimer) runWithRetry(ctx context.Context) {
	err := r.runOnce(ctx)
	for attempt := 0; err != nil && isTransientDBErr(err) && attempt < len(r.retryBackoff); attempt++ {
		log.Printf("service=cleanup msg=%q attempt=%d backoff=%s err=%v",
			"transient_error_retrying", attempt+1, r.retryBackoff[attempt], err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryBackoff[attempt]):
		}
		err = r.runOnce(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Printf("service=cleanup msg=%q err=%v", "run_failed", err)
	}
}

// runOnce deletes every expired, non-permanent object. When backup is
// required only rows already mirrored remotely are eligible.
func (r *reclaimer) runOnce(ctx context.Context) error {
	start := r.now()
	cutoff := start.Add(-r.retention).UTC()

	expired, err := r.catalog.ListExpiredEligible(ctx, cutoff, r.requireBackup, 100)
	if err != nil {
		return err
	}

	deleted := 0
	for _, obj := range expired {
		if ctx.Err() != nil {
			break
		}

		if err := r.store.Delete(obj.StoredName); err != nil {
			log.Printf("service=cleanup msg=%q id=%s err=%v", "disk_delete_failed", obj.ID, err)
			continue
		}

		if obj.BackupID != "" && r.backup.Available() {
			if err := r.backup.Delete(ctx, obj.BackupID); err != nil {
				// Orphan remote copies are acceptable; a lost local file is not.
				log.Printf("service=cleanup msg=%q id=%s backup_id=%s err=%v",
					"remote_delete_failed", obj.ID, obj.BackupID, err)
			}
		}

		if err := r.catalog.Delete(ctx, obj.ID); err != nil {
			log.Printf("service=cleanup msg=%q id=%s err=%v", "row_delete_failed", obj.ID, err)
			continue
		}

		deleted++
	}

	if r.metrics != nil && deleted > 0 {
		r.metrics.RecordDeletions(deleted)
	}

	log.Printf("service=cleanup msg=%q deleted=%d duration_ms=%d",
		"cleanup_complete", deleted, time.Since(start).Milliseconds())
	return nil
}

// isTransientDBErr reports whether the error looks like a connectivity
// hiccup worth retrying. Row-level and cancellation errors are not.
func isTransientDBErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errNotFound) {
		return false
	}
	return true
}
