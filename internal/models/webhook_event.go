package models

import "time"

// WebhookEventStatus represents the processing state of a webhook event
type WebhookEventStatus string

// Webhook event statuses
const (
	WebhookEventStatusPending WebhookEventStatus = "pending"
	WebhookEventStatusSuccess WebhookEventStatus = "success"
	WebhookEventStatusFailed  WebhookEventStatus = "failed"
)

// WebhookEventRetention is how long idempotency records are kept. The
// gateway never replays an event id after this window, so expiry is purely
// storage hygiene.
const WebhookEventRetention = 30 * 24 * time.Hour

// ProcessedWebhookEvent is the idempotency ledger for gateway webhooks.
// The unique index on EventID is the authoritative dedup point: the
// pipeline inserts first and treats a duplicate-key error as "already
// processed".
type ProcessedWebhookEvent struct {
	Base
	EventID        string             `gorm:"type:varchar(100);uniqueIndex" json:"event_id"`
	EventType      string             `gorm:"type:varchar(100);index" json:"event_type"`
	SubscriptionID string             `gorm:"type:varchar(100);index" json:"subscription_id,omitempty"`
	Signature      string             `gorm:"type:varchar(200)" json:"signature"`
	Status         WebhookEventStatus `gorm:"type:varchar(20)" json:"status"`
	Error          string             `gorm:"type:text" json:"error,omitempty"`
	RetryCount     int                `json:"retry_count"`
	IPAddress      string             `gorm:"type:varchar(45)" json:"ip_address"`
	ProcessedAt    *time.Time         `json:"processed_at,omitempty"`
	ExpiresAt      time.Time          `gorm:"index" json:"expires_at"`
}
