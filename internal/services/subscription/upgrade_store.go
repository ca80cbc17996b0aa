package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// ErrDuplicateIntent means an open intent already holds the idempotency
// key; the caller should surface that intent instead of a new one.
var ErrDuplicateIntent = errors.New("an open upgrade intent already holds this idempotency key")

var openUpgradeStatuses = []models.UpgradeStatus{
	models.UpgradeStatusPendingPayment,
	models.UpgradeStatusProcessing,
}

// GormUpgradeStore persists upgrade intents for the lifecycle service and
// the cleanup job.
type GormUpgradeStore struct {
	db *gorm.DB
}

// NewGormUpgradeStore creates an upgrade store on the given database.
func NewGormUpgradeStore(db *gorm.DB) *GormUpgradeStore {
	return &GormUpgradeStore{db: db}
}

// Create inserts a new intent. The partial unique index over open intents
// rejects a second open intent for the same idempotency key; terminal
// intents do not block the insert.
func (s *GormUpgradeStore) Create(ctx context.Context, intent *models.SubscriptionUpgrade) error {
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateIntent
		}
		return fmt.Errorf("failed to create upgrade intent: %w", err)
	}
	return nil
}

// FindOpenByKey loads the open intent holding an idempotency key.
func (s *GormUpgradeStore) FindOpenByKey(ctx context.Context, key string) (*models.SubscriptionUpgrade, error) {
	var intent models.SubscriptionUpgrade
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ? AND status IN ?", key, openUpgradeStatuses).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUpgradeNotFound
		}
		return nil, fmt.Errorf("failed to load open upgrade intent: %w", err)
	}
	return &intent, nil
}

// FindForUser loads an intent by id, scoped to its owner.
func (s *GormUpgradeStore) FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.SubscriptionUpgrade, error) {
	var intent models.SubscriptionUpgrade
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUpgradeNotFound
		}
		return nil, fmt.Errorf("failed to load upgrade intent: %w", err)
	}
	return &intent, nil
}

// Claim flips an intent awaiting payment to processing and records the
// payment id. Intents past their payment window cannot be claimed.
func (s *GormUpgradeStore) Claim(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.SubscriptionUpgrade{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, models.UpgradeStatusPendingPayment, now).
		Updates(map[string]interface{}{"status": models.UpgradeStatusProcessing, "payment_id": paymentID})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim upgrade intent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release rolls a processing intent back to awaiting payment so a failed
// confirmation can be retried.
func (s *GormUpgradeStore) Release(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.SubscriptionUpgrade{}).
		Where("id = ? AND status = ?", id, models.UpgradeStatusProcessing).
		Update("status", models.UpgradeStatusPendingPayment).Error
}

// Complete marks an applied intent completed, releasing its idempotency
// key.
func (s *GormUpgradeStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.SubscriptionUpgrade{}).
		Where("id = ?", id).
		Update("status", models.UpgradeStatusCompleted).Error
}

// FindStale returns non-terminal upgrade intents whose TTL has passed.
func (s *GormUpgradeStore) FindStale(ctx context.Context, now time.Time, limit int) ([]models.SubscriptionUpgrade, error) {
	var intents []models.SubscriptionUpgrade
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", openUpgradeStatuses, now).
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stale upgrades: %w", err)
	}
	return intents, nil
}

// Expire marks a stale intent expired, freeing its idempotency key for a
// fresh attempt. Conditional on the intent still being non-terminal.
func (s *GormUpgradeStore) Expire(ctx context.Context, intent *models.SubscriptionUpgrade) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.SubscriptionUpgrade{}).
		Where("id = ? AND status = ?", intent.ID, intent.Status).
		Update("status", models.UpgradeStatusExpired)
	if res.Error != nil {
		return false, fmt.Errorf("failed to expire upgrade intent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeTerminal removes terminal intents older than the retention window.
// Rows are deleted outright so retention actually reclaims storage.
func (s *GormUpgradeStore) PurgeTerminal(ctx context.Context, now time.Time, limit int) (int64, error) {
	cutoff := now.Add(-models.UpgradeRetention)

	res := s.db.WithContext(ctx).Unscoped().
		Where("id IN (?)", s.db.Model(&models.SubscriptionUpgrade{}).
			Select("id").
			Where("status IN ? AND updated_at <= ?", []models.UpgradeStatus{
				models.UpgradeStatusCompleted,
				models.UpgradeStatusFailed,
				models.UpgradeStatusExpired,
			}, cutoff).
			Limit(limit)).
		Delete(&models.SubscriptionUpgrade{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge upgrade intents: %w", res.Error)
	}
	return res.RowsAffected, nil
}
