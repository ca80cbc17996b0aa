package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rezapp/backend/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRemainingDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calc := NewCalculatorAt(fixedClock(now))

	t.Run("whole days", func(t *testing.T) {
		assert.Equal(t, 10, calc.RemainingDays(now.AddDate(0, 0, 10)))
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		assert.Equal(t, 10, calc.RemainingDays(now.AddDate(0, 0, 9).Add(time.Hour)))
	})

	t.Run("past end date is zero", func(t *testing.T) {
		assert.Equal(t, 0, calc.RemainingDays(now.AddDate(0, 0, -5)))
		assert.Equal(t, 0, calc.RemainingDays(now))
	})
}

func TestUpgradeCharge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	calc := NewCalculatorAt(fixedClock(now))

	t.Run("half cycle remaining", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 15)
		// (299-99) * 15/30 = 100
		assert.Equal(t, int64(100), calc.UpgradeCharge(99, 299, endDate, models.BillingCycleMonthly))
	})

	t.Run("yearly denominator", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 73)
		// (2999-999) * 73/365 = 400
		assert.Equal(t, int64(400), calc.UpgradeCharge(999, 2999, endDate, models.BillingCycleYearly))
	})

	t.Run("cheaper target charges nothing", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 15)
		assert.Equal(t, int64(0), calc.UpgradeCharge(299, 99, endDate, models.BillingCycleMonthly))
	})

	t.Run("expired period charges nothing", func(t *testing.T) {
		assert.Equal(t, int64(0), calc.UpgradeCharge(99, 299, now, models.BillingCycleMonthly))
	})
}

func TestDowngradeCredit(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	calc := NewCalculatorAt(fixedClock(now))

	t.Run("mirrors the upgrade charge", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 15)
		charge := calc.UpgradeCharge(99, 299, endDate, models.BillingCycleMonthly)
		credit := calc.DowngradeCredit(299, 99, endDate, models.BillingCycleMonthly)
		assert.Equal(t, charge, credit)
	})

	t.Run("pricier target credits nothing", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 15)
		assert.Equal(t, int64(0), calc.DowngradeCredit(99, 299, endDate, models.BillingCycleMonthly))
	})

	t.Run("rounds to nearest unit", func(t *testing.T) {
		endDate := now.AddDate(0, 0, 7)
		// (299-99) * 7/30 = 46.66... -> 47
		assert.Equal(t, int64(47), calc.DowngradeCredit(299, 99, endDate, models.BillingCycleMonthly))
	})
}
