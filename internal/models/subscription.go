package models

import (
	"time"

	"github.com/google/uuid"
)

// TierType represents a subscription tier
type TierType string

// Subscription tiers
const (
	TierFree    TierType = "free"
	TierPremium TierType = "premium"
	TierVIP     TierType = "vip"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

// Subscription statuses
const (
	SubscriptionStatusTrial         SubscriptionStatus = "trial"
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusGracePeriod   SubscriptionStatus = "grace_period"
	SubscriptionStatusPaymentFailed SubscriptionStatus = "payment_failed"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired       SubscriptionStatus = "expired"
)

// BillingCycle represents the recurrence period of a subscription
type BillingCycle string

// Billing cycles
const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// GracePeriod is the window after a failed payment during which benefits
// remain active pending retry. The state machine and the expiry job must
// both use this constant.
const GracePeriod = 3 * 24 * time.Hour

// ReactivationWindow is how long after cancellation a subscription can be
// renewed without creating a fresh one.
const ReactivationWindow = 30 * 24 * time.Hour

// Subscription represents a user's paid membership. One per user; the
// latest record supersedes prior ones. Rows are never deleted, they
// transition to expired or cancelled instead.
type Subscription struct {
	Base
	UserID       uuid.UUID          `gorm:"type:uuid;index" json:"user_id"`
	Tier         TierType           `gorm:"type:varchar(20);index" json:"tier"`
	Status       SubscriptionStatus `gorm:"type:varchar(20);index" json:"status"`
	BillingCycle BillingCycle       `gorm:"type:varchar(20)" json:"billing_cycle"`
	Price        int64              `json:"price"`

	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `gorm:"index" json:"end_date"`
	TrialEndDate *time.Time `json:"trial_end_date,omitempty"`
	AutoRenew    bool       `gorm:"default:true" json:"auto_renew"`

	GatewaySubscriptionID string `gorm:"index" json:"gateway_subscription_id,omitempty"`
	GatewayPlanID         string `json:"gateway_plan_id,omitempty"`
	GatewayCustomerID     string `json:"gateway_customer_id,omitempty"`

	Benefits Benefits `gorm:"type:jsonb" json:"benefits"`
	Usage    JSON     `gorm:"type:jsonb" json:"usage,omitempty"`

	CancellationDate   *time.Time `json:"cancellation_date,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`

	GracePeriodStartDate *time.Time `json:"grace_period_start_date,omitempty"`
	PaymentRetryCount    int        `json:"payment_retry_count"`
	LastPaymentDate      *time.Time `json:"last_payment_date,omitempty"`

	PreviousTier          *TierType  `gorm:"type:varchar(20)" json:"previous_tier,omitempty"`
	DowngradeTargetTier   *TierType  `gorm:"type:varchar(20)" json:"downgrade_target_tier,omitempty"`
	DowngradeScheduledFor *time.Time `json:"downgrade_scheduled_for,omitempty"`
	ProratedCredit        int64      `json:"prorated_credit"`

	PromoCodeUsed string `json:"promo_code_used,omitempty"`
}

// IsEntitled reports whether the user still enjoys the subscription's
// benefits, which includes trials and the post-failure grace window.
func (s *Subscription) IsEntitled(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrial, SubscriptionStatusGracePeriod:
		return s.EndDate.After(now)
	}
	return false
}

// BillingPeriod returns the length of one billing cycle.
func (s *Subscription) BillingPeriod() time.Duration {
	if s.BillingCycle == BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// ApplyActivation moves the subscription to active with the period the
// gateway reports. Safe to replay: activating an already-active
// subscription only refreshes the period bounds.
func (s *Subscription) ApplyActivation(start, end time.Time) {
	s.Status = SubscriptionStatusActive
	if !start.IsZero() {
		s.StartDate = start
	}
	if !end.IsZero() {
		s.EndDate = end
	}
}

// ApplyCharge records a successful payment: the subscription returns to
// active, failure bookkeeping is cleared, and the paid-through boundary is
// extended by one billing period if it had already lapsed.
func (s *Subscription) ApplyCharge(now time.Time) {
	s.Status = SubscriptionStatusActive
	s.GracePeriodStartDate = nil
	s.PaymentRetryCount = 0
	s.LastPaymentDate = &now

	if !s.EndDate.After(now) {
		s.EndDate = s.EndDate.Add(s.BillingPeriod())
	}
}

// EnterGracePeriod moves an active subscription into the grace window
// after a payment attempt fails. No-op unless currently active.
func (s *Subscription) EnterGracePeriod(now time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	s.Status = SubscriptionStatusGracePeriod
	s.GracePeriodStartDate = &now
	s.PaymentRetryCount++
	return true
}

// GraceDeadline returns the instant at which the grace window closes.
// Zero time if the subscription never entered grace.
func (s *Subscription) GraceDeadline() time.Time {
	if s.GracePeriodStartDate == nil {
		return time.Time{}
	}
	return s.GracePeriodStartDate.Add(GracePeriod)
}

// GraceExpired reports whether the grace window has fully elapsed.
func (s *Subscription) GraceExpired(now time.Time) bool {
	deadline := s.GraceDeadline()
	return !deadline.IsZero() && !now.Before(deadline)
}

// MarkPaymentFailed moves a grace-period subscription to payment_failed
// once the gateway halts retries. No-op unless currently in grace.
func (s *Subscription) MarkPaymentFailed() bool {
	if s.Status != SubscriptionStatusGracePeriod {
		return false
	}
	s.Status = SubscriptionStatusPaymentFailed
	return true
}

// MarkCancelled records a cancellation. Benefits remain until EndDate.
func (s *Subscription) MarkCancelled(now time.Time, reason string) {
	s.Status = SubscriptionStatusCancelled
	s.CancellationDate = &now
	s.CancellationReason = reason
	s.CancelAtPeriodEnd = true
	s.AutoRenew = false
}

// Expire terminates the subscription and resets benefits to the free tier.
func (s *Subscription) Expire(freeBenefits Benefits) {
	prev := s.Tier
	s.PreviousTier = &prev
	s.Status = SubscriptionStatusExpired
	s.Tier = TierFree
	s.Benefits = freeBenefits
	s.AutoRenew = false
	s.GracePeriodStartDate = nil
	s.DowngradeTargetTier = nil
	s.DowngradeScheduledFor = nil
}

// CanRenew reports whether a cancelled subscription is still inside the
// reactivation window.
func (s *Subscription) CanRenew(now time.Time) bool {
	if s.Status != SubscriptionStatusCancelled || s.CancellationDate == nil {
		return false
	}
	return now.Before(s.CancellationDate.Add(ReactivationWindow))
}

// StateSnapshot captures the audit-relevant slice of a subscription.
func (s *Subscription) StateSnapshot() JSON {
	return JSON{
		"tier":   string(s.Tier),
		"status": string(s.Status),
	}
}
