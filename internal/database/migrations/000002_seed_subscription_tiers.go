package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rezapp/backend/internal/models"
)

// SeedSubscriptionTiers inserts the default tier catalog. Existing rows
// are left untouched so operator edits survive redeploys.
func SeedSubscriptionTiers() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_seed_subscription_tiers",
		Migrate: func(tx *gorm.DB) error {
			tiers := models.DefaultTiers()
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoNothing: true,
			}).Create(&tiers).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Where("key IN ?", []models.TierType{
				models.TierFree,
				models.TierPremium,
				models.TierVIP,
			}).Delete(&models.SubscriptionTier{}).Error
		},
	}
}
