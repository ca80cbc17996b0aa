package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezapp/backend/internal/lock"
	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/audit"
)

// fakeLockClient is an in-process lock.Client. TTLs are ignored.
type fakeLockClient struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeLockClient() *fakeLockClient {
	return &fakeLockClient{values: make(map[string]string)}
}

func (f *fakeLockClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeLockClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// fakeExpiryStore feeds the job canned scan results.
type fakeExpiryStore struct {
	lapsed  []models.Subscription
	graced  []models.Subscription
	saved   []models.Subscription
	saveErr map[uuid.UUID]error
}

func (f *fakeExpiryStore) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return f.lapsed, nil
}

func (f *fakeExpiryStore) GraceElapsed(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return f.graced, nil
}

func (f *fakeExpiryStore) SaveTransition(ctx context.Context, sub *models.Subscription, fromStatus models.SubscriptionStatus) (bool, error) {
	if err := f.saveErr[sub.ID]; err != nil {
		return false, err
	}
	f.saved = append(f.saved, *sub)
	return true, nil
}

func testSubscription(status models.SubscriptionStatus, endDate time.Time) models.Subscription {
	return models.Subscription{
		Base:         models.Base{ID: uuid.New()},
		UserID:       uuid.New(),
		Tier:         models.TierPremium,
		Status:       status,
		BillingCycle: models.BillingCycleMonthly,
		Price:        99,
		EndDate:      endDate,
	}
}

type nullSink struct{}

func (nullSink) Write(models.SubscriptionAuditLog) error { return nil }

func newTestAuditLogger() *audit.Logger {
	logger := audit.NewLogger(nullSink{}, 64)
	logger.Start()
	return logger
}

func TestExpiryJobRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expires lapsed and grace-elapsed subscriptions", func(t *testing.T) {
		lapsed := testSubscription(models.SubscriptionStatusActive, now.Add(-time.Hour))

		graceStart := now.Add(-models.GracePeriod)
		graced := testSubscription(models.SubscriptionStatusGracePeriod, now.AddDate(0, 0, 10))
		graced.GracePeriodStartDate = &graceStart

		store := &fakeExpiryStore{
			lapsed: []models.Subscription{lapsed},
			graced: []models.Subscription{graced},
		}
		logger := newTestAuditLogger()
		defer logger.Stop()

		job := NewExpiryJob(store, logger, lock.NewManager(newFakeLockClient())).
			WithClock(func() time.Time { return now })

		result, err := job.Run(context.Background())
		require.NoError(t, err)

		assert.False(t, result.Skipped)
		assert.Equal(t, 2, result.Processed)
		assert.Equal(t, 0, result.Failed)
		require.Len(t, store.saved, 2)
		for _, saved := range store.saved {
			assert.Equal(t, models.SubscriptionStatusExpired, saved.Status)
			assert.Equal(t, models.TierFree, saved.Tier)
			assert.Equal(t, models.FreeBenefits(), saved.Benefits)
		}
	})

	t.Run("grace window still open is left alone", func(t *testing.T) {
		graceStart := now.Add(-models.GracePeriod + time.Second)
		graced := testSubscription(models.SubscriptionStatusGracePeriod, now.AddDate(0, 0, 10))
		graced.GracePeriodStartDate = &graceStart

		store := &fakeExpiryStore{graced: []models.Subscription{graced}}
		logger := newTestAuditLogger()
		defer logger.Stop()

		job := NewExpiryJob(store, logger, lock.NewManager(newFakeLockClient())).
			WithClock(func() time.Time { return now })

		result, err := job.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, result.Processed)
		assert.Empty(t, store.saved)
	})

	t.Run("one failure does not abort the batch", func(t *testing.T) {
		first := testSubscription(models.SubscriptionStatusActive, now.Add(-time.Hour))
		second := testSubscription(models.SubscriptionStatusActive, now.Add(-time.Hour))

		store := &fakeExpiryStore{
			lapsed:  []models.Subscription{first, second},
			saveErr: map[uuid.UUID]error{first.ID: errors.New("deadlock detected")},
		}
		logger := newTestAuditLogger()
		defer logger.Stop()

		job := NewExpiryJob(store, logger, lock.NewManager(newFakeLockClient())).
			WithClock(func() time.Time { return now })

		result, err := job.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, store.saved, 1)
		assert.Equal(t, second.ID, store.saved[0].ID)
	})

	t.Run("skips when the lock is held elsewhere", func(t *testing.T) {
		client := newFakeLockClient()
		manager := lock.NewManager(client)

		held, err := manager.Acquire(context.Background(), lock.JobKey(ExpiryJobName), time.Minute)
		require.NoError(t, err)
		require.NotNil(t, held)

		store := &fakeExpiryStore{
			lapsed: []models.Subscription{testSubscription(models.SubscriptionStatusActive, now.Add(-time.Hour))},
		}
		logger := newTestAuditLogger()
		defer logger.Stop()

		job := NewExpiryJob(store, logger, manager).
			WithClock(func() time.Time { return now })

		result, err := job.Run(context.Background())
		require.NoError(t, err)

		assert.True(t, result.Skipped)
		assert.Empty(t, store.saved)
	})
}
