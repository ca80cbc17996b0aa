package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rezapp/backend/internal/models"
)

// BenefitsReader answers "what is this user entitled to". Unknown users
// and lapsed subscriptions resolve to free-tier values.
type BenefitsReader struct {
	store Store
	now   func() time.Time
}

// NewBenefitsReader creates a benefits reader.
func NewBenefitsReader(store Store) *BenefitsReader {
	return &BenefitsReader{store: store, now: time.Now}
}

// NewBenefitsReaderAt creates a benefits reader on a caller-supplied clock.
func NewBenefitsReaderAt(store Store, now func() time.Time) *BenefitsReader {
	return &BenefitsReader{store: store, now: now}
}

// Current returns the user's benefit-granting subscription, or nil when
// the user is effectively on the free tier.
func (r *BenefitsReader) Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := r.store.FindEntitledByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sub.IsEntitled(r.now()) {
		return nil, nil
	}
	return sub, nil
}

// BenefitsFor returns the user's effective benefits.
func (r *BenefitsReader) BenefitsFor(ctx context.Context, userID uuid.UUID) (models.Benefits, error) {
	sub, err := r.Current(ctx, userID)
	if err != nil {
		return models.Benefits{}, err
	}
	if sub == nil {
		return models.FreeBenefits(), nil
	}
	return sub.Benefits, nil
}

// TierFor returns the user's effective tier.
func (r *BenefitsReader) TierFor(ctx context.Context, userID uuid.UUID) (models.TierType, error) {
	sub, err := r.Current(ctx, userID)
	if err != nil {
		return models.TierFree, err
	}
	if sub == nil {
		return models.TierFree, nil
	}
	return sub.Tier, nil
}

// CashbackMultiplier returns the user's effective cashback multiplier.
func (r *BenefitsReader) CashbackMultiplier(ctx context.Context, userID uuid.UUID) (float64, error) {
	benefits, err := r.BenefitsFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	if benefits.CashbackMultiplier <= 0 {
		return models.FreeBenefits().CashbackMultiplier, nil
	}
	return benefits.CashbackMultiplier, nil
}

// HasFreeDelivery reports whether the user's tier includes free delivery.
func (r *BenefitsReader) HasFreeDelivery(ctx context.Context, userID uuid.UUID) (bool, error) {
	benefits, err := r.BenefitsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return benefits.FreeDelivery, nil
}
