package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rezapp/backend/internal/billing"
	"github.com/rezapp/backend/internal/gateway"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
	"github.com/rezapp/backend/internal/services/promo"
	"github.com/rezapp/backend/internal/services/tierconfig"
)

// Lifecycle operation errors surfaced to callers.
var (
	ErrAlreadySubscribed   = errors.New("user already has an entitled subscription")
	ErrNotUpgradable       = errors.New("subscription cannot be upgraded to the requested tier")
	ErrNotDowngradable     = errors.New("subscription cannot be downgraded to the requested tier")
	ErrUpgradeNotFound     = errors.New("upgrade intent not found")
	ErrUpgradeNotClaimable = errors.New("upgrade intent is not awaiting payment")
	ErrRenewWindowClosed   = errors.New("subscription is outside its reactivation window")
	ErrPromoInvalid        = errors.New("promo code is not valid for this purchase")
)

// IntentStore persists upgrade intents. Satisfied by GormUpgradeStore.
type IntentStore interface {
	// Create inserts a new intent, returning ErrDuplicateIntent when an
	// open intent already holds the idempotency key.
	Create(ctx context.Context, intent *models.SubscriptionUpgrade) error
	FindOpenByKey(ctx context.Context, key string) (*models.SubscriptionUpgrade, error)
	FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.SubscriptionUpgrade, error)
	// Claim flips pending_payment to processing; intents past their
	// payment window are refused.
	Claim(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID) error
}

// Service implements the user-facing subscription lifecycle operations.
type Service struct {
	store   Store
	intents IntentStore
	tiers   *tierconfig.Service
	promo   *promo.Service
	audit   *audit.Logger
	gw      gateway.Gateway
	calc    *billing.Calculator
	now     func() time.Time
}

// NewService wires the subscription service.
func NewService(store Store, intents IntentStore, tiers *tierconfig.Service, promoSvc *promo.Service, auditLogger *audit.Logger, gw gateway.Gateway) *Service {
	return &Service{
		store:   store,
		intents: intents,
		tiers:   tiers,
		promo:   promoSvc,
		audit:   auditLogger,
		gw:      gw,
		calc:    billing.NewCalculator(),
		now:     time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.calc = billing.NewCalculatorAt(now)
	return s
}

// SubscribeInput is the request for a new subscription.
type SubscribeInput struct {
	UserID    uuid.UUID
	Email     string
	Tier      models.TierType
	Cycle     models.BillingCycle
	PromoCode string
}

// Subscribe creates a subscription for a user on a paid tier. The tier's
// trial, when configured, starts immediately; the gateway subscription is
// created up front and drives later state via webhooks.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*models.Subscription, error) {
	if existing, err := s.store.FindEntitledByUser(ctx, in.UserID); err == nil && existing.IsEntitled(s.now()) {
		return nil, ErrAlreadySubscribed
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tier, err := s.tiers.GetTier(ctx, in.Tier)
	if err != nil {
		return nil, err
	}
	price := tier.PriceFor(in.Cycle)

	var discount int64
	if in.PromoCode != "" {
		validation, err := s.promo.Validate(ctx, in.PromoCode, in.Tier, in.Cycle, in.UserID, price)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return nil, fmt.Errorf("%w: %s", ErrPromoInvalid, validation.Message)
		}
		discount = validation.Discount
	}

	customer, err := s.gw.CreateCustomer(ctx, in.UserID.String(), in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway customer: %w", err)
	}

	planID := tier.GatewayMonthlyPlanID
	totalCycles := 120
	if in.Cycle == models.BillingCycleYearly {
		planID = tier.GatewayYearlyPlanID
		totalCycles = 10
	}
	gwSub, err := s.gw.CreateSubscription(ctx, planID, customer.ID, totalCycles)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway subscription: %w", err)
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:                in.UserID,
		Tier:                  in.Tier,
		Status:                models.SubscriptionStatusActive,
		BillingCycle:          in.Cycle,
		Price:                 price - discount,
		StartDate:             now,
		EndDate:               now.Add(periodFor(in.Cycle)),
		AutoRenew:             true,
		GatewaySubscriptionID: gwSub.ID,
		GatewayPlanID:         planID,
		GatewayCustomerID:     customer.ID,
		Benefits:              tier.Benefits,
		PromoCodeUsed:         models.NormalizePromoCode(in.PromoCode),
	}
	if tier.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, tier.TrialDays)
		sub.Status = models.SubscriptionStatusTrial
		sub.TrialEndDate = &trialEnd
	}

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	if in.PromoCode != "" {
		id := sub.ID
		if _, err := s.promo.Apply(ctx, in.PromoCode, in.UserID, &id, price); err != nil {
			// The subscription already exists at the discounted price; a
			// lost ledger entry is recoverable, an aborted purchase is not.
			log.Printf("Failed to apply promo code %s for user %s: %v", in.PromoCode, in.UserID, err)
		}
	}

	s.audit.RecordTransition(models.AuditActionCreated, sub, nil, models.JSON{
		"cycle":    string(in.Cycle),
		"price":    sub.Price,
		"discount": discount,
	})
	if sub.Status == models.SubscriptionStatusTrial {
		s.audit.RecordTransition(models.AuditActionTrialStarted, sub, nil, nil)
	}

	return sub, nil
}

// InitiateUpgrade opens a payment-pending upgrade intent and returns it
// with the prorated amount to charge. Re-initiating the same upgrade
// while an intent is open returns the open intent instead of a new one.
func (s *Service) InitiateUpgrade(ctx context.Context, userID uuid.UUID, toTier models.TierType, cycle models.BillingCycle) (*models.SubscriptionUpgrade, error) {
	sub, err := s.store.FindEntitledByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if models.TierRank(toTier) <= models.TierRank(sub.Tier) {
		return nil, ErrNotUpgradable
	}

	newPrice, err := s.tiers.GetPrice(ctx, toTier, cycle)
	if err != nil {
		return nil, err
	}
	currentPrice := sub.Price
	if sub.BillingCycle != cycle {
		// Compare like with like when the cycle changes too.
		currentPrice, err = s.tiers.GetPrice(ctx, sub.Tier, cycle)
		if err != nil {
			return nil, err
		}
	}
	amount := s.calc.UpgradeCharge(currentPrice, newPrice, sub.EndDate, cycle)

	key := models.UpgradeIdempotencyKey(userID, sub.Tier, toTier, cycle)
	intent := &models.SubscriptionUpgrade{
		UserID:         userID,
		SubscriptionID: sub.ID,
		FromTier:       sub.Tier,
		ToTier:         toTier,
		BillingCycle:   cycle,
		ProratedAmount: amount,
		PaymentGateway: "razorpay",
		Status:         models.UpgradeStatusPendingPayment,
		IdempotencyKey: key,
		ExpiresAt:      s.now().Add(models.UpgradeIntentTTL),
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, ErrDuplicateIntent) {
			existing, findErr := s.intents.FindOpenByKey(ctx, key)
			if findErr != nil {
				return nil, fmt.Errorf("upgrade intent already open but not loadable: %w", findErr)
			}
			return existing, nil
		}
		return nil, err
	}

	id := sub.ID
	s.audit.Record(models.AuditActionUpgradeInitiated, userID, &id, sub.StateSnapshot(), sub.StateSnapshot(), models.JSON{
		"to_tier":         string(toTier),
		"cycle":           string(cycle),
		"prorated_amount": amount,
		"upgrade_id":      intent.ID.String(),
	})

	return intent, nil
}

// ConfirmUpgrade applies a paid upgrade intent to the subscription. The
// intent is claimed with a conditional status flip so concurrent
// confirmations apply exactly once; an intent past its payment window
// cannot be claimed at its stale prorated amount. On failure the claim
// is rolled back so confirmation can be retried.
func (s *Service) ConfirmUpgrade(ctx context.Context, userID uuid.UUID, upgradeID uuid.UUID, paymentID string) (*models.Subscription, error) {
	intent, err := s.intents.FindForUser(ctx, upgradeID, userID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.intents.Claim(ctx, intent.ID, paymentID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrUpgradeNotClaimable
	}

	sub, err := s.applyUpgrade(ctx, intent)
	if err != nil {
		// Release the claim so the confirmation can be retried.
		if rbErr := s.intents.Release(ctx, intent.ID); rbErr != nil {
			log.Printf("Failed to roll back upgrade intent %s: %v", intent.ID, rbErr)
		}
		id := intent.SubscriptionID
		s.audit.Record(models.AuditActionUpgradeFailed, userID, &id, nil, nil, models.JSON{
			"upgrade_id": intent.ID.String(),
			"error":      err.Error(),
		})
		return nil, err
	}

	if err := s.intents.Complete(ctx, intent.ID); err != nil {
		log.Printf("Upgrade %s applied but intent not marked completed: %v", intent.ID, err)
	}

	return sub, nil
}

func (s *Service) applyUpgrade(ctx context.Context, intent *models.SubscriptionUpgrade) (*models.Subscription, error) {
	sub, err := s.store.FindEntitledByUser(ctx, intent.UserID)
	if err != nil {
		return nil, err
	}

	benefits, err := s.tiers.GetBenefits(ctx, intent.ToTier)
	if err != nil {
		return nil, err
	}
	newPrice, err := s.tiers.GetPrice(ctx, intent.ToTier, intent.BillingCycle)
	if err != nil {
		return nil, err
	}

	prev := sub.StateSnapshot()
	prevTier := sub.Tier
	sub.PreviousTier = &prevTier
	sub.Tier = intent.ToTier
	sub.Benefits = benefits
	sub.Price = newPrice
	sub.BillingCycle = intent.BillingCycle
	sub.Status = models.SubscriptionStatusActive

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to apply upgrade: %w", err)
	}

	s.audit.RecordTransition(models.AuditActionUpgradeConfirmed, sub, prev, models.JSON{
		"upgrade_id":      intent.ID.String(),
		"prorated_amount": intent.ProratedAmount,
	})
	return sub, nil
}

// ScheduleDowngrade defers a downgrade to the end of the paid period and
// records the prorated credit. The tier change itself is executed by the
// downgrade job once the period lapses.
func (s *Service) ScheduleDowngrade(ctx context.Context, userID uuid.UUID, toTier models.TierType) (*models.Subscription, error) {
	sub, err := s.store.FindEntitledByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if models.TierRank(toTier) >= models.TierRank(sub.Tier) {
		return nil, ErrNotDowngradable
	}

	newPrice, err := s.tiers.GetPrice(ctx, toTier, sub.BillingCycle)
	if err != nil {
		return nil, err
	}
	credit := s.calc.DowngradeCredit(sub.Price, newPrice, sub.EndDate, sub.BillingCycle)

	prev := sub.StateSnapshot()
	target := toTier
	scheduledFor := sub.EndDate
	sub.DowngradeTargetTier = &target
	sub.DowngradeScheduledFor = &scheduledFor
	sub.ProratedCredit = credit

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to schedule downgrade: %w", err)
	}

	s.audit.RecordTransition(models.AuditActionDowngradeScheduled, sub, prev, models.JSON{
		"target_tier":     string(toTier),
		"scheduled_for":   scheduledFor,
		"prorated_credit": credit,
	})
	return sub, nil
}

// Cancel stops renewal; benefits remain until the end of the paid period.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID, reason string) (*models.Subscription, error) {
	sub, err := s.store.FindEntitledByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.GatewaySubscriptionID != "" {
		if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID, true); err != nil {
			return nil, fmt.Errorf("failed to cancel gateway subscription: %w", err)
		}
	}

	prev := sub.StateSnapshot()
	sub.MarkCancelled(s.now(), reason)

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.audit.RecordTransition(models.AuditActionCancelled, sub, prev, models.JSON{"reason": reason})
	return sub, nil
}

// Renew reactivates a cancelled subscription inside its reactivation
// window.
func (s *Service) Renew(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.store.FindLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.CanRenew(s.now()) {
		return nil, ErrRenewWindowClosed
	}

	if sub.GatewaySubscriptionID != "" {
		if err := s.gw.ResumeSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
			return nil, fmt.Errorf("failed to resume gateway subscription: %w", err)
		}
	}

	prev := sub.StateSnapshot()
	sub.Status = models.SubscriptionStatusActive
	sub.AutoRenew = true
	sub.CancellationDate = nil
	sub.CancellationReason = ""
	sub.CancelAtPeriodEnd = false

	applied, err := s.store.SaveTransition(ctx, sub, models.SubscriptionStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}
	if !applied {
		return nil, ErrRenewWindowClosed
	}

	s.audit.RecordTransition(models.AuditActionRenewed, sub, prev, nil)
	return sub, nil
}

// ToggleAutoRenew flips auto-renewal and syncs the gateway. Returns the
// new value.
func (s *Service) ToggleAutoRenew(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := s.store.FindEntitledByUser(ctx, userID)
	if err != nil {
		return false, err
	}

	target := !sub.AutoRenew
	if sub.GatewaySubscriptionID != "" {
		if target {
			err = s.gw.ResumeSubscription(ctx, sub.GatewaySubscriptionID)
		} else {
			err = s.gw.PauseSubscription(ctx, sub.GatewaySubscriptionID)
		}
		if err != nil {
			return sub.AutoRenew, fmt.Errorf("failed to sync auto-renew with gateway: %w", err)
		}
	}

	prev := sub.StateSnapshot()
	sub.AutoRenew = target
	if err := s.store.Save(ctx, sub); err != nil {
		return !target, fmt.Errorf("failed to update auto-renew: %w", err)
	}

	s.audit.RecordTransition(models.AuditActionAdminOverride, sub, prev, models.JSON{"auto_renew": target})
	return target, nil
}

func periodFor(cycle models.BillingCycle) time.Duration {
	if cycle == models.BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
