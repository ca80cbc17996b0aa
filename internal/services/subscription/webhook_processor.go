package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
)

// Gateway webhook event types. The ingestion pipeline rejects anything
// outside this set before it reaches the processor.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionPending   = "subscription.pending"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionCompleted = "subscription.completed"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
)

// KnownEventTypes lists every webhook event the pipeline accepts.
var KnownEventTypes = map[string]bool{
	EventSubscriptionActivated: true,
	EventSubscriptionCharged:   true,
	EventSubscriptionPending:   true,
	EventSubscriptionHalted:    true,
	EventSubscriptionCancelled: true,
	EventSubscriptionCompleted: true,
	EventSubscriptionPaused:    true,
	EventSubscriptionResumed:   true,
}

// Event is a parsed gateway webhook event.
type Event struct {
	ID                    string
	Type                  string
	CreatedAt             time.Time
	GatewaySubscriptionID string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	IPAddress             string
}

// Processor applies webhook events to subscription state. Every handler
// is idempotent: replaying an event against already-transitioned state is
// a no-op, which keeps retries after a failed ledger write safe.
type Processor struct {
	store Store
	audit *audit.Logger
	now   func() time.Time
}

// NewProcessor creates a webhook event processor.
func NewProcessor(store Store, auditLogger *audit.Logger) *Processor {
	return &Processor{store: store, audit: auditLogger, now: time.Now}
}

// NewProcessorAt creates a processor on a caller-supplied clock.
func NewProcessorAt(store Store, auditLogger *audit.Logger, now func() time.Time) *Processor {
	return &Processor{store: store, audit: auditLogger, now: now}
}

// ProcessEvent routes an event to its transition. Events for unknown
// subscriptions are logged and ignored; the gateway may notify about
// records created outside this system.
func (p *Processor) ProcessEvent(ctx context.Context, event Event) error {
	sub, err := p.store.FindByGatewayID(ctx, event.GatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("Webhook %s for unknown gateway subscription %s, ignoring", event.Type, event.GatewaySubscriptionID)
			return nil
		}
		return fmt.Errorf("failed to load subscription for webhook: %w", err)
	}

	switch event.Type {
	case EventSubscriptionActivated:
		return p.handleActivated(ctx, sub, event)
	case EventSubscriptionCharged:
		return p.handleCharged(ctx, sub, event)
	case EventSubscriptionPending:
		return p.handlePending(ctx, sub, event)
	case EventSubscriptionHalted:
		return p.handleHalted(ctx, sub, event)
	case EventSubscriptionCancelled, EventSubscriptionPaused:
		return p.handleCancelled(ctx, sub, event)
	case EventSubscriptionCompleted:
		return p.handleCompleted(ctx, sub, event)
	case EventSubscriptionResumed:
		return p.handleResumed(ctx, sub, event)
	default:
		return fmt.Errorf("unhandled webhook event type %q", event.Type)
	}
}

func (p *Processor) handleActivated(ctx context.Context, sub *models.Subscription, event Event) error {
	if sub.Status == models.SubscriptionStatusActive &&
		!event.PeriodEnd.After(sub.EndDate) {
		return nil
	}

	prev := sub.StateSnapshot()
	wasTrial := sub.Status == models.SubscriptionStatusTrial
	sub.ApplyActivation(event.PeriodStart, event.PeriodEnd)

	if err := p.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	action := models.AuditActionRenewed
	if wasTrial {
		action = models.AuditActionTrialExpired
	}
	p.audit.RecordTransition(action, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}

func (p *Processor) handleCharged(ctx context.Context, sub *models.Subscription, event Event) error {
	switch sub.Status {
	case models.SubscriptionStatusTrial,
		models.SubscriptionStatusGracePeriod,
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusActive:
	default:
		return nil
	}

	prev := sub.StateSnapshot()
	fromStatus := sub.Status
	autoRenewed := !sub.EndDate.After(p.now())
	sub.ApplyCharge(p.now())
	if !event.PeriodEnd.IsZero() && event.PeriodEnd.After(sub.EndDate) {
		sub.EndDate = event.PeriodEnd
	}

	applied, err := p.store.SaveTransition(ctx, sub, fromStatus)
	if err != nil {
		return fmt.Errorf("failed to apply charge: %w", err)
	}
	if !applied {
		log.Printf("Charge webhook %s lost the race for subscription %s, skipping", event.ID, sub.ID)
		return nil
	}

	p.audit.RecordTransition(models.AuditActionPaymentSucceeded, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	if autoRenewed {
		p.audit.RecordTransition(models.AuditActionAutoRenewed, sub, prev, models.JSON{"event_id": event.ID})
	}
	return nil
}

func (p *Processor) handlePending(ctx context.Context, sub *models.Subscription, event Event) error {
	prev := sub.StateSnapshot()
	if !sub.EnterGracePeriod(p.now()) {
		return nil
	}

	applied, err := p.store.SaveTransition(ctx, sub, models.SubscriptionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to enter grace period: %w", err)
	}
	if !applied {
		return nil
	}

	p.audit.RecordTransition(models.AuditActionGracePeriodEntered, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}

func (p *Processor) handleHalted(ctx context.Context, sub *models.Subscription, event Event) error {
	prev := sub.StateSnapshot()
	if !sub.MarkPaymentFailed() {
		return nil
	}

	applied, err := p.store.SaveTransition(ctx, sub, models.SubscriptionStatusGracePeriod)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if !applied {
		return nil
	}

	p.audit.RecordTransition(models.AuditActionPaymentFailed, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}

func (p *Processor) handleCancelled(ctx context.Context, sub *models.Subscription, event Event) error {
	if sub.Status == models.SubscriptionStatusCancelled ||
		sub.Status == models.SubscriptionStatusExpired {
		return nil
	}

	prev := sub.StateSnapshot()
	sub.MarkCancelled(p.now(), "cancelled via gateway: "+event.Type)

	if err := p.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	p.audit.RecordTransition(models.AuditActionCancelled, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}

func (p *Processor) handleCompleted(ctx context.Context, sub *models.Subscription, event Event) error {
	if sub.Status == models.SubscriptionStatusExpired {
		return nil
	}

	prev := sub.StateSnapshot()
	sub.Expire(models.FreeBenefits())

	if err := p.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to expire completed subscription: %w", err)
	}

	p.audit.RecordTransition(models.AuditActionExpired, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}

func (p *Processor) handleResumed(ctx context.Context, sub *models.Subscription, event Event) error {
	if sub.Status != models.SubscriptionStatusCancelled || !sub.EndDate.After(p.now()) {
		return nil
	}

	prev := sub.StateSnapshot()
	sub.Status = models.SubscriptionStatusActive
	sub.AutoRenew = true
	sub.CancellationDate = nil
	sub.CancellationReason = ""
	sub.CancelAtPeriodEnd = false

	applied, err := p.store.SaveTransition(ctx, sub, models.SubscriptionStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to resume subscription: %w", err)
	}
	if !applied {
		return nil
	}

	p.audit.RecordTransition(models.AuditActionRenewed, sub, prev, models.JSON{"event": event.Type, "event_id": event.ID})
	return nil
}
