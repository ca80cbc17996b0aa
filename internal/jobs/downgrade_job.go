package jobs

import (
	"context"
	"log"
	"time"

	"github.com/rezapp/backend/internal/lock"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
)

// DowngradeJobName names the downgrade job's distributed lock.
const DowngradeJobName = "subscription-downgrade"

// DowngradeStore is the persistence surface the downgrade job scans and
// writes through.
type DowngradeStore interface {
	DueForDowngrade(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	SaveTransition(ctx context.Context, sub *models.Subscription, fromStatus models.SubscriptionStatus) (bool, error)
}

// TierSource resolves tier pricing and benefits. Satisfied by the
// tierconfig service.
type TierSource interface {
	GetBenefits(ctx context.Context, key models.TierType) (models.Benefits, error)
	GetPrice(ctx context.Context, key models.TierType, cycle models.BillingCycle) (int64, error)
}

// DowngradeJob executes downgrades deferred to the end of the paid
// period: it applies the target tier's benefits and pricing, or expires
// the subscription entirely when the target is free.
type DowngradeJob struct {
	store DowngradeStore
	tiers TierSource
	audit *audit.Logger
	locks *lock.Manager
	now   func() time.Time
}

// NewDowngradeJob creates the downgrade execution job.
func NewDowngradeJob(store DowngradeStore, tiers TierSource, auditLogger *audit.Logger, locks *lock.Manager) *DowngradeJob {
	return &DowngradeJob{store: store, tiers: tiers, audit: auditLogger, locks: locks, now: time.Now}
}

// WithClock overrides the job clock. Test hook.
func (j *DowngradeJob) WithClock(now func() time.Time) *DowngradeJob {
	j.now = now
	return j
}

// Run executes one downgrade pass under the job lock.
func (j *DowngradeJob) Run(ctx context.Context) (Result, error) {
	return runLocked(ctx, j.locks, DowngradeJobName, j.run)
}

func (j *DowngradeJob) run(ctx context.Context) Result {
	var result Result

	due, err := j.store.DueForDowngrade(ctx, j.now(), BatchLimit)
	if err != nil {
		log.Printf("Downgrade job scan failed: %v", err)
		result.Failed++
		return result
	}

	for i := range due {
		if err := j.downgradeOne(ctx, &due[i]); err != nil {
			log.Printf("Failed to downgrade subscription %s: %v", due[i].ID, err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	return result
}

func (j *DowngradeJob) downgradeOne(ctx context.Context, sub *models.Subscription) error {
	target := *sub.DowngradeTargetTier
	prev := sub.StateSnapshot()
	fromStatus := sub.Status

	if target == models.TierFree {
		sub.Expire(models.FreeBenefits())
	} else {
		benefits, err := j.tiers.GetBenefits(ctx, target)
		if err != nil {
			return err
		}
		price, err := j.tiers.GetPrice(ctx, target, sub.BillingCycle)
		if err != nil {
			return err
		}

		prevTier := sub.Tier
		sub.PreviousTier = &prevTier
		sub.Tier = target
		sub.Benefits = benefits
		sub.Price = price
		sub.DowngradeTargetTier = nil
		sub.DowngradeScheduledFor = nil
		sub.ProratedCredit = 0
	}

	applied, err := j.store.SaveTransition(ctx, sub, fromStatus)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	action := models.AuditActionDowngradeExecuted
	if target == models.TierFree {
		action = models.AuditActionExpired
	}
	j.audit.RecordTransition(action, sub, prev, models.JSON{"target_tier": string(target)})
	return nil
}
