package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezapp/backend/internal/security"
	"github.com/rezapp/backend/internal/services/subscription"
	"github.com/rezapp/backend/internal/utils"
)

// SignatureHeader carries the gateway's HMAC signature over the raw body.
const SignatureHeader = "X-Razorpay-Signature"

// MaxEventAge is the freshness bound: events older than this are treated
// as replays and rejected.
const MaxEventAge = 300 * time.Second

// EventProcessor dispatches a verified webhook event into a subscription
// transition.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event subscription.Event) error
}

// WebhookHandler ingests billing gateway webhooks. The pipeline is a
// strictly ordered chain; every stage can short-circuit with a terminal
// response. Origin allowlisting and rate limiting run as route middleware
// ahead of this handler.
type WebhookHandler struct {
	secret    string
	ledger    subscription.EventLedger
	processor EventProcessor
	alerts    *security.AlertRecorder
	now       func() time.Time
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(secret string, ledger subscription.EventLedger, processor EventProcessor, alerts *security.AlertRecorder) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		ledger:    ledger,
		processor: processor,
		alerts:    alerts,
		now:       time.Now,
	}
}

// WithClock overrides the handler clock. Test hook.
func (h *WebhookHandler) WithClock(now func() time.Time) *WebhookHandler {
	h.now = now
	return h
}

type webhookPayload struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

type subscriptionEntity struct {
	Subscription struct {
		Entity struct {
			ID           string `json:"id"`
			Status       string `json:"status"`
			CurrentStart int64  `json:"current_start"`
			CurrentEnd   int64  `json:"current_end"`
		} `json:"entity"`
	} `json:"subscription"`
}

// HandleWebhook processes one gateway webhook delivery.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	ip := c.ClientIP()

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// Structural validation: required fields present, known event type.
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.ID == "" || payload.Event == "" || payload.CreatedAt == 0 || len(payload.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	if !subscription.KnownEventTypes[payload.Event] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}

	// Signature verification over the raw body, constant time.
	signature := c.GetHeader(SignatureHeader)
	if signature == "" || !utils.VerifyHMAC(string(body), signature, h.secret) {
		h.alerts.Record(security.Alert{
			Type:      security.AlertInvalidSignature,
			Severity:  security.AlertSeverityCritical,
			Message:   "webhook signature verification failed",
			IPAddress: ip,
			EventID:   payload.ID,
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var entity subscriptionEntity
	if err := json.Unmarshal(payload.Payload, &entity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event := subscription.Event{
		ID:                    payload.ID,
		Type:                  payload.Event,
		CreatedAt:             time.Unix(payload.CreatedAt, 0),
		GatewaySubscriptionID: entity.Subscription.Entity.ID,
		IPAddress:             ip,
	}
	if ts := entity.Subscription.Entity.CurrentStart; ts > 0 {
		event.PeriodStart = time.Unix(ts, 0)
	}
	if ts := entity.Subscription.Entity.CurrentEnd; ts > 0 {
		event.PeriodEnd = time.Unix(ts, 0)
	}

	// Idempotency: the atomic unique insert is the dedup point. A
	// duplicate is a success to the gateway, never an error, because
	// gateways retry on any non-2xx.
	claim, err := h.ledger.Claim(c.Request.Context(), event, signature)
	if err != nil {
		log.Printf("Failed to claim webhook event %s: %v", event.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	if claim == subscription.ClaimDuplicate {
		h.alerts.Record(security.Alert{
			Type:      security.AlertDuplicateEvent,
			Severity:  security.AlertSeverityWarning,
			Message:   "duplicate webhook event received",
			IPAddress: ip,
			EventID:   event.ID,
		})
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	// Freshness: stale events are treated as replays.
	if age := h.now().Sub(event.CreatedAt); age > MaxEventAge || age < -MaxEventAge {
		h.alerts.Record(security.Alert{
			Type:      security.AlertReplaySuspected,
			Severity:  security.AlertSeverityCritical,
			Message:   "webhook event outside freshness window",
			IPAddress: ip,
			EventID:   event.ID,
		})
		h.markFailed(c, event.ID, "event outside freshness window")
		c.JSON(http.StatusBadRequest, gin.H{"error": "event expired"})
		return
	}

	// Dispatch into the state machine.
	if err := h.processor.ProcessEvent(c.Request.Context(), event); err != nil {
		log.Printf("Failed to process webhook event %s (%s): %v", event.ID, event.Type, err)
		h.alerts.Record(security.Alert{
			Type:      security.AlertProcessingFailure,
			Severity:  security.AlertSeverityWarning,
			Message:   "webhook processing failed",
			IPAddress: ip,
			EventID:   event.ID,
		})
		h.markFailed(c, event.ID, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	// Record: a failure here only warns. The transition handlers are
	// idempotent, so a reprocessed event after a lost ledger write is
	// harmless.
	if err := h.ledger.MarkSucceeded(c.Request.Context(), event.ID); err != nil {
		log.Printf("Webhook event %s processed but not marked succeeded: %v", event.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *WebhookHandler) markFailed(c *gin.Context, eventID, reason string) {
	if err := h.ledger.MarkFailed(c.Request.Context(), eventID, reason); err != nil {
		log.Printf("Failed to mark webhook event %s failed: %v", eventID, err)
	}
}
