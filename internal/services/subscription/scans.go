package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/rezapp/backend/internal/models"
)

// Scan queries used by the background jobs. All are bounded by limit so
// a single run never grows past one batch.

// DueForExpiry finds active subscriptions past their paid-through date
// with auto-renew off.
func (s *GormStore) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_date <= ? AND auto_renew = ?", models.SubscriptionStatusActive, now, false).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for expired subscriptions: %w", err)
	}
	return subs, nil
}

// GraceElapsed finds grace-period subscriptions whose grace window has
// fully elapsed. The cutoff is derived from the shared grace constant.
func (s *GormStore) GraceElapsed(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	cutoff := now.Add(-models.GracePeriod)

	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND grace_period_start_date <= ?", models.SubscriptionStatusGracePeriod, cutoff).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for elapsed grace periods: %w", err)
	}
	return subs, nil
}

// DueForDowngrade finds subscriptions with a scheduled downgrade whose
// effective date has passed, falling back to the paid-through date when
// no explicit date was recorded.
func (s *GormStore) DueForDowngrade(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("downgrade_target_tier IS NOT NULL AND status IN ?", []models.SubscriptionStatus{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusCancelled,
		}).
		Where("(downgrade_scheduled_for IS NOT NULL AND downgrade_scheduled_for <= ?) OR (downgrade_scheduled_for IS NULL AND end_date <= ?)", now, now).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for due downgrades: %w", err)
	}
	return subs, nil
}
