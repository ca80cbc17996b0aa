package jobs

import (
	"context"
	"log"
	"time"

	"github.com/rezapp/backend/internal/lock"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
)

// ExpiryJobName names the expiry job's distributed lock.
const ExpiryJobName = "subscription-expiry"

// ExpiryStore is the persistence surface the expiry job scans and writes
// through.
type ExpiryStore interface {
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	GraceElapsed(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	SaveTransition(ctx context.Context, sub *models.Subscription, fromStatus models.SubscriptionStatus) (bool, error)
}

// ExpiryJob expires lapsed subscriptions: active ones past their
// paid-through date with auto-renew off, and grace-period ones whose
// grace window has elapsed. Both paths reset benefits to the free tier.
type ExpiryJob struct {
	store ExpiryStore
	audit *audit.Logger
	locks *lock.Manager
	now   func() time.Time
}

// NewExpiryJob creates the expiry job.
func NewExpiryJob(store ExpiryStore, auditLogger *audit.Logger, locks *lock.Manager) *ExpiryJob {
	return &ExpiryJob{store: store, audit: auditLogger, locks: locks, now: time.Now}
}

// WithClock overrides the job clock. Test hook.
func (j *ExpiryJob) WithClock(now func() time.Time) *ExpiryJob {
	j.now = now
	return j
}

// Run executes one expiry pass under the job lock.
func (j *ExpiryJob) Run(ctx context.Context) (Result, error) {
	return runLocked(ctx, j.locks, ExpiryJobName, j.run)
}

func (j *ExpiryJob) run(ctx context.Context) Result {
	var result Result
	now := j.now()

	lapsed, err := j.store.DueForExpiry(ctx, now, BatchLimit)
	if err != nil {
		log.Printf("Expiry job scan failed: %v", err)
		result.Failed++
		return result
	}
	for i := range lapsed {
		j.expireOne(ctx, &lapsed[i], models.JSON{"reason": "period ended, auto-renew off"}, &result)
	}

	graced, err := j.store.GraceElapsed(ctx, now, BatchLimit)
	if err != nil {
		log.Printf("Expiry job grace scan failed: %v", err)
		result.Failed++
		return result
	}
	for i := range graced {
		// Belt and braces: the scan already applies the cutoff, but the
		// decision must agree with the state machine's constant.
		if !graced[i].GraceExpired(now) {
			continue
		}
		j.expireOne(ctx, &graced[i], models.JSON{"reason": "grace period elapsed"}, &result)
	}

	return result
}

// expireOne transitions a single subscription to expired. A failure is
// logged and counted; it never aborts the batch.
func (j *ExpiryJob) expireOne(ctx context.Context, sub *models.Subscription, metadata models.JSON, result *Result) {
	prev := sub.StateSnapshot()
	fromStatus := sub.Status
	sub.Expire(models.FreeBenefits())

	applied, err := j.store.SaveTransition(ctx, sub, fromStatus)
	if err != nil {
		log.Printf("Failed to expire subscription %s: %v", sub.ID, err)
		result.Failed++
		return
	}
	if !applied {
		// A webhook got there first; whatever state it wrote wins.
		return
	}

	j.audit.RecordTransition(models.AuditActionExpired, sub, prev, metadata)
	result.Processed++
}
