package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezapp/backend/internal/handlers"
	"github.com/rezapp/backend/internal/middleware"
)

// RegisterWebhookRoutes registers the gateway webhook endpoint. The
// allowlist and rate limiter run ahead of the handler so rejected
// requests never touch the pipeline.
func RegisterWebhookRoutes(router *gin.Engine, webhookHandler *handlers.WebhookHandler, allowlist *middleware.IPAllowlist, rateLimiter *middleware.RateLimiter) {
	webhookGroup := router.Group("/api/webhooks")
	webhookGroup.Use(allowlist.Middleware())
	webhookGroup.Use(rateLimiter.Middleware())
	{
		webhookGroup.POST("/billing", webhookHandler.HandleWebhook)
	}
}

// RegisterSubscriptionRoutes registers the subscription lifecycle routes.
func RegisterSubscriptionRoutes(router *gin.Engine, subscriptionHandler *handlers.SubscriptionHandler) {
	subGroup := router.Group("/api/subscriptions")
	{
		subGroup.GET("/tiers", subscriptionHandler.GetTiers)
		subGroup.GET("/current", subscriptionHandler.GetCurrent)
		subGroup.POST("", subscriptionHandler.Subscribe)
		subGroup.POST("/upgrade", subscriptionHandler.InitiateUpgrade)
		subGroup.POST("/upgrade/confirm", subscriptionHandler.ConfirmUpgrade)
		subGroup.POST("/downgrade", subscriptionHandler.Downgrade)
		subGroup.POST("/cancel", subscriptionHandler.Cancel)
		subGroup.POST("/renew", subscriptionHandler.Renew)
		subGroup.POST("/auto-renew/toggle", subscriptionHandler.ToggleAutoRenew)
		subGroup.POST("/promo/validate", subscriptionHandler.ValidatePromoCode)
	}

	adminGroup := router.Group("/api/admin/subscriptions")
	{
		adminGroup.POST("/tiers/invalidate-cache", subscriptionHandler.InvalidateTierCache)
	}
}

// RegisterSecurityRoutes exposes the webhook alert history to operators.
func RegisterSecurityRoutes(router *gin.Engine, alertsHandler *handlers.AlertsHandler) {
	adminGroup := router.Group("/api/admin/webhooks")
	{
		adminGroup.GET("/alerts", alertsHandler.RecentAlerts)
	}
}

// RegisterHealthRoutes registers liveness endpoints.
func RegisterHealthRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
}
