package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func activeSub(now time.Time) Subscription {
	return Subscription{
		Tier:         TierPremium,
		Status:       SubscriptionStatusActive,
		BillingCycle: BillingCycleMonthly,
		Price:        99,
		StartDate:    now.AddDate(0, 0, -10),
		EndDate:      now.AddDate(0, 0, 20),
		AutoRenew:    true,
	}
}

func TestIsEntitled(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("active trial and grace are entitled", func(t *testing.T) {
		for _, status := range []SubscriptionStatus{
			SubscriptionStatusActive,
			SubscriptionStatusTrial,
			SubscriptionStatusGracePeriod,
		} {
			sub := activeSub(now)
			sub.Status = status
			assert.True(t, sub.IsEntitled(now), string(status))
		}
	})

	t.Run("terminal statuses are not", func(t *testing.T) {
		for _, status := range []SubscriptionStatus{
			SubscriptionStatusPaymentFailed,
			SubscriptionStatusCancelled,
			SubscriptionStatusExpired,
		} {
			sub := activeSub(now)
			sub.Status = status
			assert.False(t, sub.IsEntitled(now), string(status))
		}
	})

	t.Run("lapsed period is not entitled", func(t *testing.T) {
		sub := activeSub(now)
		sub.EndDate = now
		assert.False(t, sub.IsEntitled(now))
	})
}

func TestGracePeriodLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("enters only from active", func(t *testing.T) {
		sub := activeSub(now)
		assert.True(t, sub.EnterGracePeriod(now))
		assert.Equal(t, SubscriptionStatusGracePeriod, sub.Status)
		assert.Equal(t, 1, sub.PaymentRetryCount)

		// A replayed pending event must not re-enter
		assert.False(t, sub.EnterGracePeriod(now.Add(time.Hour)))
		assert.Equal(t, 1, sub.PaymentRetryCount)
	})

	t.Run("deadline boundary", func(t *testing.T) {
		sub := activeSub(now)
		sub.EnterGracePeriod(now)

		assert.False(t, sub.GraceExpired(now.Add(GracePeriod-time.Second)))
		assert.True(t, sub.GraceExpired(now.Add(GracePeriod)))
		assert.True(t, sub.GraceExpired(now.Add(GracePeriod+time.Hour)))
	})

	t.Run("charge clears grace bookkeeping", func(t *testing.T) {
		sub := activeSub(now)
		sub.EnterGracePeriod(now)

		paid := now.Add(24 * time.Hour)
		sub.ApplyCharge(paid)

		assert.Equal(t, SubscriptionStatusActive, sub.Status)
		assert.Nil(t, sub.GracePeriodStartDate)
		assert.Equal(t, 0, sub.PaymentRetryCount)
		assert.Equal(t, &paid, sub.LastPaymentDate)
	})

	t.Run("payment failed only from grace", func(t *testing.T) {
		sub := activeSub(now)
		assert.False(t, sub.MarkPaymentFailed())

		sub.EnterGracePeriod(now)
		assert.True(t, sub.MarkPaymentFailed())
		assert.Equal(t, SubscriptionStatusPaymentFailed, sub.Status)
	})
}

func TestApplyCharge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("unlapsed period is untouched", func(t *testing.T) {
		sub := activeSub(now)
		endDate := sub.EndDate
		sub.ApplyCharge(now)
		assert.Equal(t, endDate, sub.EndDate)
	})

	t.Run("lapsed period extends by one cycle", func(t *testing.T) {
		sub := activeSub(now)
		sub.EndDate = now.Add(-time.Hour)
		sub.ApplyCharge(now)
		assert.Equal(t, now.Add(-time.Hour).Add(30*24*time.Hour), sub.EndDate)
	})

	t.Run("yearly cycle extends by a year", func(t *testing.T) {
		sub := activeSub(now)
		sub.BillingCycle = BillingCycleYearly
		sub.EndDate = now
		sub.ApplyCharge(now)
		assert.Equal(t, now.Add(365*24*time.Hour), sub.EndDate)
	})
}

func TestExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := activeSub(now)
	target := TierFree
	sub.DowngradeTargetTier = &target

	sub.Expire(FreeBenefits())

	assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, TierFree, sub.Tier)
	assert.Equal(t, FreeBenefits(), sub.Benefits)
	assert.False(t, sub.AutoRenew)
	assert.Nil(t, sub.DowngradeTargetTier)
	if assert.NotNil(t, sub.PreviousTier) {
		assert.Equal(t, TierPremium, *sub.PreviousTier)
	}
}

func TestCanRenew(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("inside the reactivation window", func(t *testing.T) {
		sub := activeSub(now)
		sub.MarkCancelled(now, "changed my mind")
		assert.True(t, sub.CanRenew(now.AddDate(0, 0, 29)))
	})

	t.Run("window closed", func(t *testing.T) {
		sub := activeSub(now)
		sub.MarkCancelled(now, "changed my mind")
		assert.False(t, sub.CanRenew(now.Add(ReactivationWindow)))
	})

	t.Run("never cancelled", func(t *testing.T) {
		sub := activeSub(now)
		assert.False(t, sub.CanRenew(now))
	})
}
