package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DiscountType represents how a promo code reduces the price
type DiscountType string

// Discount types
const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// PromoCode is a limited-use discount code scoped to tiers and billing
// cycles. UsedCount always equals the number of PromoCodeUsage rows.
type PromoCode struct {
	Base
	Code            string       `gorm:"type:varchar(50);uniqueIndex" json:"code"`
	Description     string       `gorm:"type:text" json:"description"`
	DiscountType    DiscountType `gorm:"type:varchar(20)" json:"discount_type"`
	DiscountValue   int64        `json:"discount_value"`
	ApplicableTiers StringList   `gorm:"type:jsonb" json:"applicable_tiers"`
	ApplicableCycles StringList  `gorm:"type:jsonb" json:"applicable_cycles"`
	ValidFrom       time.Time    `json:"valid_from"`
	ValidUntil      time.Time    `json:"valid_until"`
	MaxUses         int          `json:"max_uses"`          // 0 = unlimited
	MaxUsesPerUser  int          `gorm:"default:1" json:"max_uses_per_user"`
	UsedCount       int          `json:"used_count"`
	Active          bool         `gorm:"default:true" json:"active"`
}

// PromoCodeUsage is one entry in a promo code's append-only usage ledger.
type PromoCodeUsage struct {
	Base
	PromoCodeID     uuid.UUID `gorm:"type:uuid;index" json:"promo_code_id"`
	UserID          uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	SubscriptionID  *uuid.UUID `gorm:"type:uuid" json:"subscription_id,omitempty"`
	DiscountApplied int64     `json:"discount_applied"`
	OriginalPrice   int64     `json:"original_price"`
	FinalPrice      int64     `json:"final_price"`
}

// NormalizePromoCode uppercases and trims a user-supplied code.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PromoValidation is the outcome of validating a promo code against a
// purchase context.
type PromoValidation struct {
	Valid           bool   `json:"valid"`
	Message         string `json:"message"`
	Discount        int64  `json:"discount,omitempty"`
	DiscountedPrice int64  `json:"discounted_price,omitempty"`
	RemainingUses   *int   `json:"remaining_uses,omitempty"`
}

// Promo validation failure messages. Each check in Validate returns a
// distinct message so callers can surface the precise reason.
const (
	PromoMsgInactive       = "promo code is not active"
	PromoMsgNotYetValid    = "promo code is not valid yet"
	PromoMsgExpired        = "promo code has expired"
	PromoMsgMaxUsesReached = "promo code has reached its usage limit"
	PromoMsgTierMismatch   = "promo code is not applicable to this tier"
	PromoMsgCycleMismatch  = "promo code is not applicable to this billing cycle"
	PromoMsgUserLimit      = "you have already used this promo code"
)

// Discount computes the discount amount for a price. Percentage discounts
// round to the nearest unit; fixed discounts never exceed the price.
func (p *PromoCode) Discount(price int64) int64 {
	switch p.DiscountType {
	case DiscountTypePercentage:
		return (price*p.DiscountValue + 50) / 100
	case DiscountTypeFixed:
		if p.DiscountValue > price {
			return price
		}
		return p.DiscountValue
	}
	return 0
}

// Validate runs the promo validation chain against a purchase context.
// priorUserUses is how many times this user has already used the code.
// The check order is fixed; the first failure short-circuits.
func (p *PromoCode) Validate(tier TierType, cycle BillingCycle, priorUserUses int, price int64, now time.Time) PromoValidation {
	if !p.Active {
		return PromoValidation{Valid: false, Message: PromoMsgInactive}
	}
	if now.Before(p.ValidFrom) {
		return PromoValidation{Valid: false, Message: PromoMsgNotYetValid}
	}
	if now.After(p.ValidUntil) {
		return PromoValidation{Valid: false, Message: PromoMsgExpired}
	}
	if p.MaxUses > 0 && p.UsedCount >= p.MaxUses {
		return PromoValidation{Valid: false, Message: PromoMsgMaxUsesReached}
	}
	if len(p.ApplicableTiers) > 0 && !p.ApplicableTiers.Contains(string(tier)) {
		return PromoValidation{Valid: false, Message: PromoMsgTierMismatch}
	}
	if len(p.ApplicableCycles) > 0 && !p.ApplicableCycles.Contains(string(cycle)) {
		return PromoValidation{Valid: false, Message: PromoMsgCycleMismatch}
	}
	if p.MaxUsesPerUser > 0 && priorUserUses >= p.MaxUsesPerUser {
		return PromoValidation{Valid: false, Message: PromoMsgUserLimit}
	}

	discount := p.Discount(price)
	result := PromoValidation{
		Valid:           true,
		Message:         "promo code applied",
		Discount:        discount,
		DiscountedPrice: price - discount,
	}
	if p.MaxUses > 0 {
		remaining := p.MaxUses - p.UsedCount
		result.RemainingUses = &remaining
	}
	return result
}
