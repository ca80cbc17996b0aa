// Package tierconfig serves tier pricing and benefits through a
// read-through Redis cache. Prices are always resolved here, never taken
// from a caller.
package tierconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// CacheTTL is how long tier entries live in the cache before a database
// re-read. Admin mutations invalidate explicitly instead of waiting it out.
const CacheTTL = 5 * time.Minute

const (
	cacheKeyPrefix  = "tierconfig:"
	cacheKeyAllList = "tierconfig:all"
)

// ErrTierNotFound is returned for unknown or inactive tier keys.
var ErrTierNotFound = errors.New("tier not found")

// Cache is the slice of the Redis API the service needs. Satisfied by
// *redis.Client.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store loads tier configuration from the authoritative datastore.
type Store interface {
	FindByKey(ctx context.Context, key models.TierType) (*models.SubscriptionTier, error)
	FindActive(ctx context.Context) ([]models.SubscriptionTier, error)
}

// GormStore is the database-backed tier store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a tier store on the given database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindByKey loads one active tier by key.
func (s *GormStore) FindByKey(ctx context.Context, key models.TierType) (*models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	err := s.db.WithContext(ctx).Where("key = ? AND active = ?", key, true).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierNotFound
		}
		return nil, err
	}
	return &tier, nil
}

// FindActive loads all active tiers ordered for display.
func (s *GormStore) FindActive(ctx context.Context) ([]models.SubscriptionTier, error) {
	var tiers []models.SubscriptionTier
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("sort_order").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

// Service answers tier lookups through the cache.
type Service struct {
	store Store
	cache Cache
}

// NewService creates a tier configuration service.
func NewService(store Store, cache Cache) *Service {
	return &Service{store: store, cache: cache}
}

// GetTier returns one tier's configuration, from cache when fresh.
func (s *Service) GetTier(ctx context.Context, key models.TierType) (*models.SubscriptionTier, error) {
	cacheKey := cacheKeyPrefix + string(key)

	if data, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
		var tier models.SubscriptionTier
		if err := json.Unmarshal([]byte(data), &tier); err == nil {
			return &tier, nil
		}
	} else if err != redis.Nil {
		log.Printf("Tier cache read failed for %s: %v", key, err)
	}

	tier, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKey, tier)
	return tier, nil
}

// GetActiveTiers returns the full active tier list, from cache when fresh.
func (s *Service) GetActiveTiers(ctx context.Context) ([]models.SubscriptionTier, error) {
	if data, err := s.cache.Get(ctx, cacheKeyAllList).Result(); err == nil {
		var tiers []models.SubscriptionTier
		if err := json.Unmarshal([]byte(data), &tiers); err == nil {
			return tiers, nil
		}
	} else if err != redis.Nil {
		log.Printf("Tier cache read failed for active list: %v", err)
	}

	tiers, err := s.store.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKeyAllList, tiers)
	return tiers, nil
}

// GetPrice resolves the server-side price for a tier and billing cycle.
func (s *Service) GetPrice(ctx context.Context, key models.TierType, cycle models.BillingCycle) (int64, error) {
	if key == models.TierFree {
		return 0, nil
	}

	tier, err := s.GetTier(ctx, key)
	if err != nil {
		return 0, err
	}
	return tier.PriceFor(cycle), nil
}

// GetBenefits resolves the benefits for a tier.
func (s *Service) GetBenefits(ctx context.Context, key models.TierType) (models.Benefits, error) {
	if key == models.TierFree {
		return models.FreeBenefits(), nil
	}

	tier, err := s.GetTier(ctx, key)
	if err != nil {
		return models.Benefits{}, err
	}
	return tier.Benefits, nil
}

// InvalidateCache clears every cached tier entry. Must be called after
// any administrative tier mutation.
func (s *Service) InvalidateCache(ctx context.Context) error {
	keys := []string{
		cacheKeyAllList,
		cacheKeyPrefix + string(models.TierFree),
		cacheKeyPrefix + string(models.TierPremium),
		cacheKeyPrefix + string(models.TierVIP),
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate tier cache: %w", err)
	}
	return nil
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, CacheTTL).Err(); err != nil {
		log.Printf("Tier cache write failed for %s: %v", key, err)
	}
}
