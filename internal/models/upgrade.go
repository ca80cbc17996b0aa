package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpgradeStatus represents the state of an upgrade intent
type UpgradeStatus string

// Upgrade statuses. completed, failed and expired are terminal.
const (
	UpgradeStatusPendingPayment UpgradeStatus = "pending_payment"
	UpgradeStatusProcessing     UpgradeStatus = "processing"
	UpgradeStatusCompleted      UpgradeStatus = "completed"
	UpgradeStatusFailed         UpgradeStatus = "failed"
	UpgradeStatusExpired        UpgradeStatus = "expired"
)

// UpgradeIntentTTL is how long an initiated upgrade may wait for payment
// confirmation before the cleanup job expires it.
const UpgradeIntentTTL = 30 * time.Minute

// UpgradeRetention is how long terminal upgrade intents are kept before
// being purged.
const UpgradeRetention = 30 * 24 * time.Hour

// SubscriptionUpgrade is an intent record for a tier change that requires
// payment. The idempotency key blocks concurrent duplicate upgrades for
// the same user and tier pair; key uniqueness is enforced by a partial
// index covering only open intents, so a completed, failed or expired
// intent frees the key for a fresh attempt.
type SubscriptionUpgrade struct {
	Base
	UserID         uuid.UUID     `gorm:"type:uuid;index" json:"user_id"`
	SubscriptionID uuid.UUID     `gorm:"type:uuid;index" json:"subscription_id"`
	FromTier       TierType      `gorm:"type:varchar(20)" json:"from_tier"`
	ToTier         TierType      `gorm:"type:varchar(20)" json:"to_tier"`
	BillingCycle   BillingCycle  `gorm:"type:varchar(20)" json:"billing_cycle"`
	ProratedAmount int64         `json:"prorated_amount"`
	PaymentGateway string        `gorm:"type:varchar(50)" json:"payment_gateway"`
	PaymentID      *string       `json:"payment_id,omitempty"`
	Status         UpgradeStatus `gorm:"type:varchar(20);index" json:"status"`
	IdempotencyKey string        `gorm:"type:varchar(200);index" json:"idempotency_key"`
	ExpiresAt      time.Time     `gorm:"index" json:"expires_at"`
	FailureReason  string        `json:"failure_reason,omitempty"`
}

// UpgradeIdempotencyKey builds the key that deduplicates upgrade intents
// for a user and tier change.
func UpgradeIdempotencyKey(userID uuid.UUID, from, to TierType, cycle BillingCycle) string {
	return fmt.Sprintf("upgrade:%s:%s:%s:%s", userID, from, to, cycle)
}

// IsTerminal reports whether the intent can no longer change state.
func (u *SubscriptionUpgrade) IsTerminal() bool {
	switch u.Status {
	case UpgradeStatusCompleted, UpgradeStatusFailed, UpgradeStatusExpired:
		return true
	}
	return false
}

// IsStale reports whether a non-terminal intent has outlived its TTL.
func (u *SubscriptionUpgrade) IsStale(now time.Time) bool {
	return !u.IsTerminal() && now.After(u.ExpiresAt)
}
