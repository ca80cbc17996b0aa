package jobs

import (
	"context"
	"log"
	"time"

	"github.com/rezapp/backend/internal/lock"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
)

// UpgradeCleanupJobName names the cleanup job's distributed lock.
const UpgradeCleanupJobName = "upgrade-cleanup"

// UpgradeStore is the persistence surface for stale upgrade intents.
type UpgradeStore interface {
	FindStale(ctx context.Context, now time.Time, limit int) ([]models.SubscriptionUpgrade, error)
	Expire(ctx context.Context, intent *models.SubscriptionUpgrade) (bool, error)
	PurgeTerminal(ctx context.Context, now time.Time, limit int) (int64, error)
}

// LedgerPurger removes webhook event records past retention. Satisfied
// by the event ledger.
type LedgerPurger interface {
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// UpgradeCleanupJob expires abandoned upgrade intents so their
// idempotency keys become claimable again, and purges records past
// their retention windows.
type UpgradeCleanupJob struct {
	upgrades UpgradeStore
	ledger   LedgerPurger
	audit    *audit.Logger
	locks    *lock.Manager
	now      func() time.Time
}

// NewUpgradeCleanupJob creates the stale-upgrade cleanup job.
func NewUpgradeCleanupJob(upgrades UpgradeStore, ledger LedgerPurger, auditLogger *audit.Logger, locks *lock.Manager) *UpgradeCleanupJob {
	return &UpgradeCleanupJob{upgrades: upgrades, ledger: ledger, audit: auditLogger, locks: locks, now: time.Now}
}

// WithClock overrides the job clock. Test hook.
func (j *UpgradeCleanupJob) WithClock(now func() time.Time) *UpgradeCleanupJob {
	j.now = now
	return j
}

// Run executes one cleanup pass under the job lock.
func (j *UpgradeCleanupJob) Run(ctx context.Context) (Result, error) {
	return runLocked(ctx, j.locks, UpgradeCleanupJobName, j.run)
}

func (j *UpgradeCleanupJob) run(ctx context.Context) Result {
	var result Result
	now := j.now()

	stale, err := j.upgrades.FindStale(ctx, now, BatchLimit)
	if err != nil {
		log.Printf("Upgrade cleanup scan failed: %v", err)
		result.Failed++
		return result
	}

	for i := range stale {
		intent := &stale[i]
		if !intent.IsStale(now) {
			// Scan result raced with a confirmation or a clock edge.
			continue
		}
		applied, err := j.upgrades.Expire(ctx, intent)
		if err != nil {
			log.Printf("Failed to expire upgrade intent %s: %v", intent.ID, err)
			result.Failed++
			continue
		}
		if !applied {
			// The intent moved on between scan and write; leave it be.
			continue
		}
		subID := intent.SubscriptionID
		j.audit.Record(models.AuditActionUpgradeFailed, intent.UserID, &subID, nil, nil, models.JSON{
			"upgrade_id": intent.ID.String(),
			"reason":     "payment window expired",
		})
		result.Processed++
	}

	if purged, err := j.upgrades.PurgeTerminal(ctx, now, BatchLimit); err != nil {
		log.Printf("Failed to purge old upgrade intents: %v", err)
		result.Failed++
	} else if purged > 0 {
		log.Printf("Purged %d upgrade intents past retention", purged)
	}

	if purged, err := j.ledger.PurgeExpired(ctx, now, BatchLimit); err != nil {
		log.Printf("Failed to purge old webhook events: %v", err)
		result.Failed++
	} else if purged > 0 {
		log.Printf("Purged %d webhook events past retention", purged)
	}

	return result
}
