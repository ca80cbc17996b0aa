package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// ClaimResult is the outcome of claiming a webhook event id.
type ClaimResult int

// Claim outcomes.
const (
	// ClaimAccepted means this process owns the event and must process it.
	ClaimAccepted ClaimResult = iota
	// ClaimDuplicate means the event was already processed (or is being
	// processed); the caller must respond success without side effects.
	ClaimDuplicate
)

// EventLedger is the idempotency ledger for gateway webhook events. The
// unique insert is the single authoritative dedup point; there is no
// separate lookup step.
type EventLedger interface {
	// Claim atomically records the event id. Failed events can be
	// reclaimed so a gateway retry after a 500 gets reprocessed; success
	// and in-flight records are duplicates.
	Claim(ctx context.Context, event Event, signature string) (ClaimResult, error)
	MarkSucceeded(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, errMsg string) error
	// PurgeExpired removes ledger rows past their retention window.
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// GormEventLedger is the database-backed event ledger.
type GormEventLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormEventLedger creates an event ledger on the given database.
func NewGormEventLedger(db *gorm.DB) *GormEventLedger {
	return &GormEventLedger{db: db, now: time.Now}
}

// Claim inserts the event id, treating a duplicate-key error as the
// duplicate signal. A previously failed attempt is reclaimed in place
// with its retry count bumped.
func (l *GormEventLedger) Claim(ctx context.Context, event Event, signature string) (ClaimResult, error) {
	record := models.ProcessedWebhookEvent{
		EventID:        event.ID,
		EventType:      event.Type,
		SubscriptionID: event.GatewaySubscriptionID,
		Signature:      signature,
		Status:         models.WebhookEventStatusPending,
		IPAddress:      event.IPAddress,
		ExpiresAt:      l.now().Add(models.WebhookEventRetention),
	}

	err := l.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return ClaimAccepted, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return ClaimDuplicate, fmt.Errorf("failed to record webhook event: %w", err)
	}

	// The id exists. Reclaim it only if the prior attempt failed.
	res := l.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("event_id = ? AND status = ?", event.ID, models.WebhookEventStatusFailed).
		Updates(map[string]interface{}{
			"status":      models.WebhookEventStatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return ClaimDuplicate, fmt.Errorf("failed to reclaim webhook event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return ClaimAccepted, nil
	}
	return ClaimDuplicate, nil
}

// MarkSucceeded finalizes a claimed event as processed.
func (l *GormEventLedger) MarkSucceeded(ctx context.Context, eventID string) error {
	now := l.now()
	return l.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventStatusSuccess,
			"error":        "",
			"processed_at": now,
		}).Error
}

// MarkFailed records a processing failure so the gateway's retry can
// reclaim the event.
func (l *GormEventLedger) MarkFailed(ctx context.Context, eventID, errMsg string) error {
	return l.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status": models.WebhookEventStatusFailed,
			"error":  errMsg,
		}).Error
}

// PurgeExpired deletes ledger rows whose retention window has passed.
// Rows are deleted outright, which also releases their event ids.
func (l *GormEventLedger) PurgeExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	res := l.db.WithContext(ctx).Unscoped().
		Where("id IN (?)", l.db.Model(&models.ProcessedWebhookEvent{}).
			Select("id").
			Where("expires_at <= ?", now).
			Limit(limit)).
		Delete(&models.ProcessedWebhookEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge webhook events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
