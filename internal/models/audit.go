package models

import (
	"github.com/google/uuid"
)

// AuditAction represents a subscription lifecycle event worth recording
type AuditAction string

// Audit actions
const (
	AuditActionCreated            AuditAction = "created"
	AuditActionUpgraded           AuditAction = "upgraded"
	AuditActionDowngraded         AuditAction = "downgraded"
	AuditActionCancelled          AuditAction = "cancelled"
	AuditActionRenewed            AuditAction = "renewed"
	AuditActionPaymentSucceeded   AuditAction = "payment_succeeded"
	AuditActionPaymentFailed      AuditAction = "payment_failed"
	AuditActionTrialStarted       AuditAction = "trial_started"
	AuditActionTrialExpired       AuditAction = "trial_expired"
	AuditActionGracePeriodEntered AuditAction = "grace_period_entered"
	AuditActionAutoRenewed        AuditAction = "auto_renewed"
	AuditActionUpgradeInitiated   AuditAction = "upgrade_initiated"
	AuditActionUpgradeConfirmed   AuditAction = "upgrade_confirmed"
	AuditActionUpgradeFailed      AuditAction = "upgrade_failed"
	AuditActionDowngradeScheduled AuditAction = "downgrade_scheduled"
	AuditActionDowngradeExecuted  AuditAction = "downgrade_executed"
	AuditActionExpired            AuditAction = "expired"
	AuditActionAdminOverride      AuditAction = "admin_override"
)

// SubscriptionAuditLog is the append-only history of subscription state
// transitions. The core never updates or deletes rows here.
type SubscriptionAuditLog struct {
	Base
	SubscriptionID *uuid.UUID  `gorm:"type:uuid;index" json:"subscription_id,omitempty"`
	UserID         uuid.UUID   `gorm:"type:uuid;index" json:"user_id"`
	Action         AuditAction `gorm:"type:varchar(50);index" json:"action"`
	PreviousState  JSON        `gorm:"type:jsonb" json:"previous_state,omitempty"`
	NewState       JSON        `gorm:"type:jsonb" json:"new_state,omitempty"`
	Metadata       JSON        `gorm:"type:jsonb" json:"metadata,omitempty"`
}
