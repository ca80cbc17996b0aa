package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// ErrNotFound is returned when no matching subscription exists.
var ErrNotFound = errors.New("subscription not found")

// Store is the persistence surface the lifecycle logic needs. Narrowed to
// an interface so the webhook processor and jobs can be exercised against
// an in-memory implementation.
type Store interface {
	FindByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindEntitledByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	// SaveTransition writes the full subscription state only if the row is
	// still in fromStatus, guarding against lost updates between a webhook
	// handler and a job runner targeting the same row.
	SaveTransition(ctx context.Context, sub *models.Subscription, fromStatus models.SubscriptionStatus) (bool, error)
}

// GormStore is the database-backed subscription store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a subscription store on the given database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindByGatewayID loads the subscription tied to a gateway subscription id.
func (s *GormStore) FindByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("gateway_subscription_id = ?", gatewaySubscriptionID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindLatestByUser loads the user's most recent subscription regardless
// of status.
func (s *GormStore) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindEntitledByUser loads the user's current benefit-granting
// subscription, if any.
func (s *GormStore) FindEntitledByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []models.SubscriptionStatus{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusTrial,
			models.SubscriptionStatusGracePeriod,
		}).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Create inserts a new subscription row.
func (s *GormStore) Create(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

// Save writes the full subscription state.
func (s *GormStore) Save(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

// SaveTransition writes the full subscription state conditional on the
// row still being in fromStatus.
func (s *GormStore) SaveTransition(ctx context.Context, sub *models.Subscription, fromStatus models.SubscriptionStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, fromStatus).
		Select("*").
		Omit("created_at").
		Updates(sub)
	if res.Error != nil {
		return false, fmt.Errorf("failed to save subscription transition: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
