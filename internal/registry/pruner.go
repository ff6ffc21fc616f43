package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PruneExpiredWork removes WorkRecords older than WorkExpire. Stale entries
// are otherwise harmless (a lookup just misses and the share is rejected as
// job-not-found), but left unpruned they grow one entry per job per live
// connection forever.
func (r *Registry) PruneExpiredWork() int {
	if r.cfg.WorkExpire <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.cfg.WorkExpire)

	r.workMu.Lock()
	defer r.workMu.Unlock()

	pruned := 0
	for _, byJob := range r.workLog {
		for jobID, rec := range byJob {
			if rec.IssuedAt.Before(cutoff) {
				delete(byJob, jobID)
				pruned++
			}
		}
	}
	return pruned
}

// StartPruneLoop runs PruneExpiredWork and job eviction on a ticker until ctx
// is cancelled, at half the WorkExpire interval (or one minute, whichever is
// smaller) so records never live much past their expiry.
func (r *Registry) StartPruneLoop(ctx context.Context) {
	interval := r.cfg.WorkExpire / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := r.PruneExpiredWork()

			r.mu.Lock()
			r.evictExpiredLocked()
			r.mu.Unlock()

			if pruned > 0 {
				r.logger.Debug("pruned expired work records", zap.Int("count", pruned))
			}
		}
	}
}
