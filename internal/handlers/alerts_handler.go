package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rezapp/backend/internal/security"
)

// AlertsHandler exposes the webhook security alert history to the admin
// surface.
type AlertsHandler struct {
	alerts *security.AlertRecorder
}

// NewAlertsHandler creates an alerts handler.
func NewAlertsHandler(alerts *security.AlertRecorder) *AlertsHandler {
	return &AlertsHandler{alerts: alerts}
}

// RecentAlerts returns the most recent alerts, newest last.
func (h *AlertsHandler) RecentAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	alerts := h.alerts.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}
