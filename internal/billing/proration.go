// Package billing holds the pure money math for tier changes. Nothing in
// here touches the datastore or the gateway.
package billing

import (
	"math"
	"time"

	"github.com/rezapp/backend/internal/models"
)

// Day counts used for prorating. Fixed denominators per cycle, never
// calendar-aware.
const (
	MonthlyCycleDays = 30
	YearlyCycleDays  = 365
)

// Calculator computes proration deltas for mid-cycle tier changes. The
// clock is injected so results depend only on the supplied time.
type Calculator struct {
	now func() time.Time
}

// NewCalculator returns a Calculator on the real clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// NewCalculatorAt returns a Calculator on a caller-supplied clock.
func NewCalculatorAt(now func() time.Time) *Calculator {
	return &Calculator{now: now}
}

// CycleDays returns the proration denominator for a billing cycle.
func CycleDays(cycle models.BillingCycle) int {
	if cycle == models.BillingCycleYearly {
		return YearlyCycleDays
	}
	return MonthlyCycleDays
}

// RemainingDays returns the whole days left until endDate, rounding a
// partial day up. Never negative.
func (c *Calculator) RemainingDays(endDate time.Time) int {
	remaining := endDate.Sub(c.now())
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// UpgradeCharge returns the amount still owed when moving from
// currentPrice to newPrice for the rest of the period. Zero when the new
// tier is not more expensive.
func (c *Calculator) UpgradeCharge(currentPrice, newPrice int64, endDate time.Time, cycle models.BillingCycle) int64 {
	return prorate(newPrice-currentPrice, c.RemainingDays(endDate), CycleDays(cycle))
}

// DowngradeCredit returns the credit owed when moving from currentPrice
// down to newPrice for the rest of the period. Zero when the new tier is
// not cheaper.
func (c *Calculator) DowngradeCredit(currentPrice, newPrice int64, endDate time.Time, cycle models.BillingCycle) int64 {
	return prorate(currentPrice-newPrice, c.RemainingDays(endDate), CycleDays(cycle))
}

// prorate scales a full-period price difference to the remaining days,
// rounding to the nearest unit and flooring at zero.
func prorate(diff int64, remainingDays, totalDays int) int64 {
	if diff <= 0 || remainingDays <= 0 {
		return 0
	}
	amount := int64(math.Round(float64(diff) * float64(remainingDays) / float64(totalDays)))
	if amount < 0 {
		return 0
	}
	return amount
}
