package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// CreateBillingTables creates the subscription billing schema
func CreateBillingTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_billing_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
				return err
			}

			if err := tx.AutoMigrate(
				&models.SubscriptionTier{},
				&models.Subscription{},
				&models.SubscriptionUpgrade{},
				&models.ProcessedWebhookEvent{},
				&models.SubscriptionAuditLog{},
				&models.PromoCode{},
				&models.PromoCodeUsage{},
			); err != nil {
				return err
			}

			// An upgrade idempotency key is only reserved while its intent
			// is open; terminal intents release the key for a new attempt.
			if err := tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_upgrades_open_idempotency_key
					ON subscription_upgrades (idempotency_key)
					WHERE status IN ('pending_payment', 'processing') AND deleted_at IS NULL;
			`).Error; err != nil {
				return err
			}

			// Scan indexes for the background jobs
			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_subscriptions_expiry_scan
					ON subscriptions (end_date) WHERE status = 'active' AND auto_renew = false;
				CREATE INDEX IF NOT EXISTS idx_subscriptions_grace_scan
					ON subscriptions (grace_period_start_date) WHERE status = 'grace_period';
				CREATE INDEX IF NOT EXISTS idx_subscriptions_downgrade_scan
					ON subscriptions (downgrade_scheduled_for) WHERE downgrade_target_tier IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_webhook_events_expires_at
					ON processed_webhook_events (expires_at);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_subscription_id
					ON subscription_audit_logs (subscription_id);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.PromoCodeUsage{},
				&models.PromoCode{},
				&models.SubscriptionAuditLog{},
				&models.ProcessedWebhookEvent{},
				&models.SubscriptionUpgrade{},
				&models.Subscription{},
				&models.SubscriptionTier{},
			)
		},
	}
}
