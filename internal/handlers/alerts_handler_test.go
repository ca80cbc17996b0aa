package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezapp/backend/internal/security"
)

func alertsRouter(recorder *security.AlertRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/admin/webhooks/alerts", NewAlertsHandler(recorder).RecentAlerts)
	return router
}

func TestRecentAlerts(t *testing.T) {
	t.Run("returns the newest alerts", func(t *testing.T) {
		recorder := security.NewAlertRecorder(10)
		recorder.Record(security.Alert{
			Type:     security.AlertInvalidSignature,
			Severity: security.AlertSeverityWarning,
			Message:  "signature mismatch",
		})
		recorder.Record(security.Alert{
			Type:     security.AlertDuplicateEvent,
			Severity: security.AlertSeverityInfo,
			Message:  "event replayed",
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/webhooks/alerts?limit=1", nil)
		alertsRouter(recorder).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Alerts []security.Alert `json:"alerts"`
			Count  int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, 1, body.Count)
		assert.Equal(t, security.AlertDuplicateEvent, body.Alerts[0].Type)
	})

	t.Run("rejects a malformed limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/webhooks/alerts?limit=zero", nil)
		alertsRouter(security.NewAlertRecorder(10)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
