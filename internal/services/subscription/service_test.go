package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezapp/backend/internal/gateway"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
	"github.com/rezapp/backend/internal/services/tierconfig"
)

// fakeIntentStore is an in-memory IntentStore. Like the real schema, the
// idempotency key is only reserved while an intent is open.
type fakeIntentStore struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*models.SubscriptionUpgrade
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[uuid.UUID]*models.SubscriptionUpgrade)}
}

func (f *fakeIntentStore) get(id uuid.UUID) models.SubscriptionUpgrade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.intents[id]
}

func (f *fakeIntentStore) setStatus(id uuid.UUID, status models.UpgradeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
}

func (f *fakeIntentStore) Create(ctx context.Context, intent *models.SubscriptionUpgrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.intents {
		if existing.IdempotencyKey == intent.IdempotencyKey && !existing.IsTerminal() {
			return ErrDuplicateIntent
		}
	}
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	copied := *intent
	f.intents[intent.ID] = &copied
	return nil
}

func (f *fakeIntentStore) FindOpenByKey(ctx context.Context, key string) (*models.SubscriptionUpgrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.intents {
		if existing.IdempotencyKey == key && !existing.IsTerminal() {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, ErrUpgradeNotFound
}

func (f *fakeIntentStore) FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.SubscriptionUpgrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok || intent.UserID != userID {
		return nil, ErrUpgradeNotFound
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeIntentStore) Claim(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok || intent.Status != models.UpgradeStatusPendingPayment || !intent.ExpiresAt.After(now) {
		return false, nil
	}
	intent.Status = models.UpgradeStatusProcessing
	pid := paymentID
	intent.PaymentID = &pid
	return true, nil
}

func (f *fakeIntentStore) Release(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[id]; ok && intent.Status == models.UpgradeStatusProcessing {
		intent.Status = models.UpgradeStatusPendingPayment
	}
	return nil
}

func (f *fakeIntentStore) Complete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[id]; ok {
		intent.Status = models.UpgradeStatusCompleted
	}
	return nil
}

// fakeTierStore serves the seed catalog without a database.
type fakeTierStore struct{}

func (fakeTierStore) FindByKey(ctx context.Context, key models.TierType) (*models.SubscriptionTier, error) {
	for _, tier := range models.DefaultTiers() {
		if tier.Key == key {
			found := tier
			return &found, nil
		}
	}
	return nil, tierconfig.ErrTierNotFound
}

func (fakeTierStore) FindActive(ctx context.Context) ([]models.SubscriptionTier, error) {
	return models.DefaultTiers(), nil
}

// nullCache misses every read so tier lookups always hit the store.
type nullCache struct{}

func (nullCache) Get(ctx context.Context, key string) *redis.StringCmd {
	return redis.NewStringResult("", redis.Nil)
}

func (nullCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (nullCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

type serviceFixture struct {
	store   *memoryStore
	intents *fakeIntentStore
	sink    *memorySink
	logger  *audit.Logger
	svc     *Service
	now     time.Time
	userID  uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	fx := &serviceFixture{
		store:   newMemoryStore(),
		intents: newFakeIntentStore(),
		sink:    &memorySink{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		userID:  uuid.New(),
	}
	fx.logger = audit.NewLogger(fx.sink, 64)
	fx.logger.Start()
	t.Cleanup(fx.logger.Stop)

	tiers := tierconfig.NewService(fakeTierStore{}, nullCache{})
	fx.svc = NewService(fx.store, fx.intents, tiers, nil, fx.logger, gateway.Noop{}).
		WithClock(func() time.Time { return fx.now })

	// A premium monthly subscription halfway through its period.
	fx.store.put(&models.Subscription{
		Base:                  models.Base{ID: uuid.New()},
		UserID:                fx.userID,
		Tier:                  models.TierPremium,
		Status:                models.SubscriptionStatusActive,
		BillingCycle:          models.BillingCycleMonthly,
		Price:                 99,
		StartDate:             fx.now.AddDate(0, 0, -15),
		EndDate:               fx.now.AddDate(0, 0, 15),
		AutoRenew:             true,
		GatewaySubscriptionID: "gw_sub_1",
		Benefits:              models.DefaultTiers()[1].Benefits,
	})
	return fx
}

func TestInitiateUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a payment-pending intent with the prorated amount", func(t *testing.T) {
		fx := newServiceFixture(t)

		intent, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)

		// (299 - 99) * 15 remaining / 30 day cycle
		assert.Equal(t, int64(100), intent.ProratedAmount)
		assert.Equal(t, models.UpgradeStatusPendingPayment, intent.Status)
		assert.Equal(t, fx.now.Add(models.UpgradeIntentTTL), intent.ExpiresAt)
	})

	t.Run("re-initiating returns the open intent", func(t *testing.T) {
		fx := newServiceFixture(t)

		first, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)

		second, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("an expired intent no longer blocks a fresh attempt", func(t *testing.T) {
		fx := newServiceFixture(t)

		first, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)

		// The cleanup job timed the intent out.
		fx.intents.setStatus(first.ID, models.UpgradeStatusExpired)

		second, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, models.UpgradeStatusPendingPayment, second.Status)
	})

	t.Run("a completed intent no longer blocks a fresh attempt", func(t *testing.T) {
		fx := newServiceFixture(t)

		first, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)
		fx.intents.setStatus(first.ID, models.UpgradeStatusCompleted)

		second, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("same or lower tier is rejected", func(t *testing.T) {
		fx := newServiceFixture(t)

		_, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierPremium, models.BillingCycleMonthly)
		assert.ErrorIs(t, err, ErrNotUpgradable)
	})
}

func TestConfirmUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the new tier and completes the intent", func(t *testing.T) {
		fx := newServiceFixture(t)

		intent, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)

		sub, err := fx.svc.ConfirmUpgrade(ctx, fx.userID, intent.ID, "pay_123")
		require.NoError(t, err)

		assert.Equal(t, models.TierVIP, sub.Tier)
		assert.Equal(t, int64(299), sub.Price)
		require.NotNil(t, sub.PreviousTier)
		assert.Equal(t, models.TierPremium, *sub.PreviousTier)

		stored := fx.intents.get(intent.ID)
		assert.Equal(t, models.UpgradeStatusCompleted, stored.Status)
		require.NotNil(t, stored.PaymentID)
		assert.Equal(t, "pay_123", *stored.PaymentID)
	})

	t.Run("an intent past its payment window cannot be confirmed", func(t *testing.T) {
		fx := newServiceFixture(t)

		intent, err := fx.svc.InitiateUpgrade(ctx, fx.userID, models.TierVIP, models.BillingCycleMonthly)
		require.NoError(t, err)

		fx.now = fx.now.Add(models.UpgradeIntentTTL + time.Minute)

		_, err = fx.svc.ConfirmUpgrade(ctx, fx.userID, intent.ID, "pay_123")
		assert.ErrorIs(t, err, ErrUpgradeNotClaimable)

		// Neither the intent nor the subscription moved.
		assert.Equal(t, models.UpgradeStatusPendingPayment, fx.intents.get(intent.ID).Status)
		assert.Equal(t, models.TierPremium, fx.store.get("gw_sub_1").Tier)
	})

	t.Run("unknown intent id", func(t *testing.T) {
		fx := newServiceFixture(t)

		_, err := fx.svc.ConfirmUpgrade(ctx, fx.userID, uuid.New(), "pay_123")
		assert.ErrorIs(t, err, ErrUpgradeNotFound)
	})
}
