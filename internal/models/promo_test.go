package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func save20() PromoCode {
	return PromoCode{
		Code:             "SAVE20",
		DiscountType:     DiscountTypePercentage,
		DiscountValue:    20,
		ApplicableTiers:  StringList{string(TierPremium), string(TierVIP)},
		ApplicableCycles: StringList{string(BillingCycleYearly)},
		ValidFrom:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:       time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		MaxUses:          100,
		MaxUsesPerUser:   1,
		Active:           true,
	}
}

func TestPromoCodeValidate(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid percentage code", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, now)

		assert.True(t, result.Valid)
		assert.Equal(t, int64(200), result.Discount)
		assert.Equal(t, int64(799), result.DiscountedPrice)
		if assert.NotNil(t, result.RemainingUses) {
			assert.Equal(t, 100, *result.RemainingUses)
		}
	})

	t.Run("inactive", func(t *testing.T) {
		p := save20()
		p.Active = false
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, now)
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgInactive, result.Message)
	})

	t.Run("not yet valid", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgNotYetValid, result.Message)
	})

	t.Run("expired", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgExpired, result.Message)
	})

	t.Run("exhausted", func(t *testing.T) {
		p := save20()
		p.UsedCount = 100
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, now)
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgMaxUsesReached, result.Message)
	})

	t.Run("tier mismatch", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierFree, BillingCycleYearly, 0, 0, now)
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgTierMismatch, result.Message)
	})

	t.Run("cycle mismatch", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierPremium, BillingCycleMonthly, 0, 99, now)
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgCycleMismatch, result.Message)
	})

	t.Run("per-user limit", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierPremium, BillingCycleYearly, 1, 999, now)
		assert.False(t, result.Valid)
		assert.Equal(t, PromoMsgUserLimit, result.Message)
	})

	t.Run("expiry check runs before tier check", func(t *testing.T) {
		p := save20()
		result := p.Validate(TierFree, BillingCycleMonthly, 5, 0, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, PromoMsgExpired, result.Message)
	})

	t.Run("unlimited uses omits remaining count", func(t *testing.T) {
		p := save20()
		p.MaxUses = 0
		p.UsedCount = 100000
		result := p.Validate(TierPremium, BillingCycleYearly, 0, 999, now)
		assert.True(t, result.Valid)
		assert.Nil(t, result.RemainingUses)
	})
}

func TestPromoCodeDiscount(t *testing.T) {
	t.Run("percentage rounds to nearest", func(t *testing.T) {
		p := PromoCode{DiscountType: DiscountTypePercentage, DiscountValue: 15}
		// 99 * 15% = 14.85 -> 15
		assert.Equal(t, int64(15), p.Discount(99))
	})

	t.Run("fixed is capped at the price", func(t *testing.T) {
		p := PromoCode{DiscountType: DiscountTypeFixed, DiscountValue: 500}
		assert.Equal(t, int64(99), p.Discount(99))
		assert.Equal(t, int64(500), p.Discount(999))
	})
}

func TestNormalizePromoCode(t *testing.T) {
	assert.Equal(t, "SAVE20", NormalizePromoCode("  save20 "))
}
