package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rezapp/backend/internal/models"
	"github.com/rezapp/backend/internal/services/promo"
	"github.com/rezapp/backend/internal/services/subscription"
	"github.com/rezapp/backend/internal/services/tierconfig"
)

// SubscriptionHandler exposes the subscription lifecycle over HTTP. The
// surrounding API gateway authenticates requests and forwards the user id
// in the X-User-ID header.
type SubscriptionHandler struct {
	subs     *subscription.Service
	benefits *subscription.BenefitsReader
	tiers    *tierconfig.Service
	promos   *promo.Service
}

// NewSubscriptionHandler creates a subscription handler.
func NewSubscriptionHandler(subs *subscription.Service, benefits *subscription.BenefitsReader, tiers *tierconfig.Service, promos *promo.Service) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:     subs,
		benefits: benefits,
		tiers:    tiers,
		promos:   promos,
	}
}

func userIDFrom(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

// GetTiers lists the active tier catalog.
func (h *SubscriptionHandler) GetTiers(c *gin.Context) {
	tiers, err := h.tiers.GetActiveTiers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tiers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

// GetCurrent returns the caller's current subscription and benefits.
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	sub, err := h.benefits.Current(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscription"})
		return
	}
	if sub == nil {
		c.JSON(http.StatusOK, gin.H{"tier": models.TierFree, "benefits": models.FreeBenefits()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": sub.Tier, "benefits": sub.Benefits, "subscription": sub})
}

// Subscribe creates a new subscription.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Email     string              `json:"email" binding:"required,email"`
		Tier      models.TierType     `json:"tier" binding:"required"`
		Cycle     models.BillingCycle `json:"billing_cycle" binding:"required"`
		PromoCode string              `json:"promo_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.subs.Subscribe(c.Request.Context(), subscription.SubscribeInput{
		UserID:    userID,
		Email:     req.Email,
		Tier:      req.Tier,
		Cycle:     req.Cycle,
		PromoCode: req.PromoCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrAlreadySubscribed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, subscription.ErrPromoInvalid), errors.Is(err, tierconfig.ErrTierNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// InitiateUpgrade opens an upgrade intent and returns the prorated amount.
func (h *SubscriptionHandler) InitiateUpgrade(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Tier  models.TierType     `json:"tier" binding:"required"`
		Cycle models.BillingCycle `json:"billing_cycle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	intent, err := h.subs.InitiateUpgrade(c.Request.Context(), userID, req.Tier, req.Cycle)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		case errors.Is(err, subscription.ErrNotUpgradable), errors.Is(err, tierconfig.ErrTierNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate upgrade"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"upgrade": intent, "amount_due": intent.ProratedAmount})
}

// ConfirmUpgrade applies a paid upgrade intent.
func (h *SubscriptionHandler) ConfirmUpgrade(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		UpgradeID uuid.UUID `json:"upgrade_id" binding:"required"`
		PaymentID string    `json:"payment_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.subs.ConfirmUpgrade(c.Request.Context(), userID, req.UpgradeID, req.PaymentID)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrUpgradeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, subscription.ErrUpgradeNotClaimable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm upgrade"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Downgrade schedules a tier downgrade for the end of the paid period.
func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Tier models.TierType `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.subs.ScheduleDowngrade(c.Request.Context(), userID, req.Tier)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		case errors.Is(err, subscription.ErrNotDowngradable), errors.Is(err, tierconfig.ErrTierNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule downgrade"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription":    sub,
		"effective_date":  sub.DowngradeScheduledFor,
		"prorated_credit": sub.ProratedCredit,
	})
}

// Cancel stops renewal at the end of the paid period.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	sub, err := h.subs.Cancel(c.Request.Context(), userID, req.Reason)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Renew reactivates a cancelled subscription.
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	sub, err := h.subs.Renew(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no subscription"})
		case errors.Is(err, subscription.ErrRenewWindowClosed):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to renew subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// ToggleAutoRenew flips auto-renewal for the caller's subscription.
func (h *SubscriptionHandler) ToggleAutoRenew(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	enabled, err := h.subs.ToggleAutoRenew(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle auto-renew"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auto_renew": enabled})
}

// ValidatePromoCode checks a promo code against a purchase context
// without consuming a use.
func (h *SubscriptionHandler) ValidatePromoCode(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Code  string              `json:"code" binding:"required"`
		Tier  models.TierType     `json:"tier" binding:"required"`
		Cycle models.BillingCycle `json:"billing_cycle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	price, err := h.tiers.GetPrice(c.Request.Context(), req.Tier, req.Cycle)
	if err != nil {
		if errors.Is(err, tierconfig.ErrTierNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve price"})
		return
	}

	result, err := h.promos.Validate(c.Request.Context(), req.Code, req.Tier, req.Cycle, userID, price)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate promo code"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// InvalidateTierCache clears the tier configuration cache. Called by the
// admin surface after any tier mutation.
func (h *SubscriptionHandler) InvalidateTierCache(c *gin.Context) {
	if err := h.tiers.InvalidateCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
