// Package promo validates and applies promotional discount codes.
// Validation never consumes a use; Apply is the explicit step invoked
// only after the downstream charge succeeds.
package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// ErrCodeExhausted is returned by Apply when the code ran out of uses
// between validation and application.
var ErrCodeExhausted = errors.New("promo code has no remaining uses")

// PromoMsgNotFound is the validation message for unknown codes. Unknown
// and inactive codes are deliberately indistinguishable to callers.
const PromoMsgNotFound = "invalid promo code"

// Service validates and applies promo codes.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService creates a promo code service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// NewServiceAt creates a promo code service on a caller-supplied clock.
func NewServiceAt(db *gorm.DB, now func() time.Time) *Service {
	return &Service{db: db, now: now}
}

// Validate checks a code against a purchase context without consuming a
// use. originalPrice must be the server-side resolved price.
func (s *Service) Validate(ctx context.Context, code string, tier models.TierType, cycle models.BillingCycle, userID uuid.UUID, originalPrice int64) (models.PromoValidation, error) {
	normalized := models.NormalizePromoCode(code)

	var promo models.PromoCode
	err := s.db.WithContext(ctx).Where("code = ?", normalized).First(&promo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.PromoValidation{Valid: false, Message: PromoMsgNotFound}, nil
		}
		return models.PromoValidation{}, fmt.Errorf("failed to load promo code: %w", err)
	}

	priorUses, err := s.countUserUsage(ctx, promo.ID, userID)
	if err != nil {
		return models.PromoValidation{}, err
	}

	return promo.Validate(tier, cycle, priorUses, originalPrice, s.now()), nil
}

// Apply consumes one use of a code for a completed purchase: it
// atomically increments the use counter and appends the usage ledger
// entry. The conditional increment keeps a limited-use code from being
// oversold by concurrent purchases.
func (s *Service) Apply(ctx context.Context, code string, userID uuid.UUID, subscriptionID *uuid.UUID, originalPrice int64) (int64, error) {
	normalized := models.NormalizePromoCode(code)

	var discount int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var promo models.PromoCode
		if err := tx.Where("code = ?", normalized).First(&promo).Error; err != nil {
			return fmt.Errorf("failed to load promo code: %w", err)
		}

		res := tx.Model(&models.PromoCode{}).
			Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", promo.ID).
			Update("used_count", gorm.Expr("used_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment promo usage: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCodeExhausted
		}

		discount = promo.Discount(originalPrice)
		usage := models.PromoCodeUsage{
			PromoCodeID:     promo.ID,
			UserID:          userID,
			SubscriptionID:  subscriptionID,
			DiscountApplied: discount,
			OriginalPrice:   originalPrice,
			FinalPrice:      originalPrice - discount,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("failed to record promo usage: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return discount, nil
}

func (s *Service) countUserUsage(ctx context.Context, promoID, userID uuid.UUID) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PromoCodeUsage{}).
		Where("promo_code_id = ? AND user_id = ?", promoID, userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count promo usage: %w", err)
	}
	return int(count), nil
}
