package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Benefits describes what a tier entitles a user to. Stored as a jsonb
// snapshot on the subscription so historical rows keep the benefits they
// were sold with.
type Benefits struct {
	CashbackMultiplier   float64 `json:"cashback_multiplier"`
	FreeDelivery         bool    `json:"free_delivery"`
	PrioritySupport      bool    `json:"priority_support"`
	ExclusiveDeals       bool    `json:"exclusive_deals"`
	UnlimitedWishlists   bool    `json:"unlimited_wishlists"`
	EarlyFlashSaleAccess bool    `json:"early_flash_sale_access"`
	PersonalShopper      bool    `json:"personal_shopper"`
	PremiumEvents        bool    `json:"premium_events"`
	ConciergeService     bool    `json:"concierge_service"`
	BirthdayOffer        bool    `json:"birthday_offer"`
	AnniversaryOffer     bool    `json:"anniversary_offer"`
}

// Value implements the driver.Valuer interface for Benefits
func (b Benefits) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements the sql.Scanner interface for Benefits
func (b *Benefits) Scan(value interface{}) error {
	if value == nil {
		*b = Benefits{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, b)
}

// SubscriptionTier is the configuration record for a tier: pricing,
// benefits, and trial length. Read-mostly; mutated only through the admin
// surface, which must invalidate the tier cache afterwards.
type SubscriptionTier struct {
	Base
	Key                  TierType `gorm:"type:varchar(20);uniqueIndex" json:"key"`
	DisplayName          string   `gorm:"type:varchar(100)" json:"display_name"`
	MonthlyPrice         int64    `json:"monthly_price"`
	YearlyPrice          int64    `json:"yearly_price"`
	YearlyDiscountPct    int      `json:"yearly_discount_pct"`
	Benefits             Benefits `gorm:"type:jsonb" json:"benefits"`
	TrialDays            int      `json:"trial_days"`
	Active               bool     `gorm:"default:true" json:"active"`
	SortOrder            int      `json:"sort_order"`
	GatewayMonthlyPlanID string   `json:"gateway_monthly_plan_id,omitempty"`
	GatewayYearlyPlanID  string   `json:"gateway_yearly_plan_id,omitempty"`
}

// PriceFor returns the tier's price for a billing cycle.
func (t *SubscriptionTier) PriceFor(cycle BillingCycle) int64 {
	if cycle == BillingCycleYearly {
		return t.YearlyPrice
	}
	return t.MonthlyPrice
}

// DefaultTiers returns the seed tier catalog.
func DefaultTiers() []SubscriptionTier {
	return []SubscriptionTier{
		{
			Key:         TierFree,
			DisplayName: "Free",
			Benefits: Benefits{
				CashbackMultiplier: 1,
			},
			Active:    true,
			SortOrder: 0,
		},
		{
			Key:               TierPremium,
			DisplayName:       "Premium",
			MonthlyPrice:      99,
			YearlyPrice:       999,
			YearlyDiscountPct: 16,
			Benefits: Benefits{
				CashbackMultiplier:   2,
				FreeDelivery:         true,
				PrioritySupport:      true,
				ExclusiveDeals:       true,
				UnlimitedWishlists:   true,
				EarlyFlashSaleAccess: true,
			},
			TrialDays: 7,
			Active:    true,
			SortOrder: 1,
		},
		{
			Key:               TierVIP,
			DisplayName:       "VIP",
			MonthlyPrice:      299,
			YearlyPrice:       2999,
			YearlyDiscountPct: 16,
			Benefits: Benefits{
				CashbackMultiplier:   3,
				FreeDelivery:         true,
				PrioritySupport:      true,
				ExclusiveDeals:       true,
				UnlimitedWishlists:   true,
				EarlyFlashSaleAccess: true,
				PersonalShopper:      true,
				PremiumEvents:        true,
				ConciergeService:     true,
				BirthdayOffer:        true,
				AnniversaryOffer:     true,
			},
			TrialDays: 7,
			Active:    true,
			SortOrder: 2,
		},
	}
}

// FreeBenefits returns the benefits a subscription falls back to when it
// expires or downgrades to free.
func FreeBenefits() Benefits {
	return Benefits{CashbackMultiplier: 1}
}

// TierRank orders tiers for upgrade/downgrade comparisons.
func TierRank(t TierType) int {
	switch t {
	case TierPremium:
		return 1
	case TierVIP:
		return 2
	default:
		return 0
	}
}
