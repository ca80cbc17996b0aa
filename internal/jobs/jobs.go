// Package jobs holds the periodic billing jobs: expiry, downgrade
// execution, and stale-upgrade cleanup. Each run is guarded by a named
// distributed lock so at most one process instance executes a given job
// per tick; a contended lock is a skip, not an error.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/rezapp/backend/internal/lock"
)

// BatchLimit bounds how many records a single job run touches.
const BatchLimit = 500

// LockTTL is the lease on a job lock, comfortably above observed batch
// runtimes. Batches are capped, so leases are never renewed mid-run.
const LockTTL = 5 * time.Minute

// Result summarizes one job run.
type Result struct {
	Skipped   bool `json:"skipped"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

// runLocked executes fn under the named job lock. When another instance
// holds the lock the run is skipped; the next schedule tick retries.
func runLocked(ctx context.Context, locks *lock.Manager, name string, fn func(ctx context.Context) Result) (Result, error) {
	lease, err := locks.Acquire(ctx, lock.JobKey(name), LockTTL)
	if err != nil {
		return Result{}, err
	}
	if lease == nil {
		log.Printf("Job %s already running elsewhere, skipping", name)
		return Result{Skipped: true}, nil
	}
	defer func() {
		if _, err := lease.Release(ctx); err != nil {
			log.Printf("Failed to release lock for job %s: %v", name, err)
		}
	}()

	start := time.Now()
	result := fn(ctx)
	log.Printf("Job %s finished in %s (processed=%d failed=%d)", name, time.Since(start).Round(time.Millisecond), result.Processed, result.Failed)
	return result, nil
}
