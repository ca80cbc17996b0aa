// Package security holds the webhook threat-detection pieces: the alert
// recorder and the origin allowlist types used by the ingestion pipeline.
package security

import (
	"log"
	"sync"
	"time"
)

// AlertType classifies a webhook security alert
type AlertType string

// Alert types raised by the webhook pipeline
const (
	AlertUnauthorizedOrigin AlertType = "unauthorized_origin"
	AlertInvalidSignature   AlertType = "invalid_signature"
	AlertDuplicateEvent     AlertType = "duplicate_event"
	AlertReplaySuspected    AlertType = "replay_suspected"
	AlertProcessingFailure  AlertType = "processing_failure"
)

// AlertSeverity is the severity of a security alert
type AlertSeverity string

// Alert severities
const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a single recorded security event.
type Alert struct {
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	IPAddress string        `json:"ip_address,omitempty"`
	EventID   string        `json:"event_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertRecorder keeps a bounded in-memory history of webhook security
// alerts and periodically logs a summary. It is injected into the
// pipeline rather than being package-level state, and Stop makes teardown
// explicit in tests and on shutdown.
type AlertRecorder struct {
	mu      sync.Mutex
	history []Alert
	counts  map[AlertType]int
	limit   int

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewAlertRecorder creates a recorder that retains at most limit alerts.
func NewAlertRecorder(limit int) *AlertRecorder {
	if limit <= 0 {
		limit = 1000
	}
	return &AlertRecorder{
		history: make([]Alert, 0, limit),
		counts:  make(map[AlertType]int),
		limit:   limit,
		done:    make(chan struct{}),
	}
}

// Start begins the periodic alert summary log.
func (r *AlertRecorder) Start() {
	r.ticker = time.NewTicker(15 * time.Minute)
	go func() {
		for {
			select {
			case <-r.ticker.C:
				r.logSummary()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the summary loop.
func (r *AlertRecorder) Stop() {
	r.once.Do(func() {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.done)
	})
}

// Record stores an alert. Critical alerts are logged immediately.
func (r *AlertRecorder) Record(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	r.mu.Lock()
	if len(r.history) >= r.limit {
		r.history = r.history[1:]
	}
	r.history = append(r.history, alert)
	r.counts[alert.Type]++
	r.mu.Unlock()

	if alert.Severity == AlertSeverityCritical {
		log.Printf("SECURITY ALERT [%s] %s (ip=%s event=%s)", alert.Type, alert.Message, alert.IPAddress, alert.EventID)
	}
}

// Recent returns up to n most recent alerts, newest last.
func (r *AlertRecorder) Recent(n int) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.history) {
		n = len(r.history)
	}
	out := make([]Alert, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// Count returns how many alerts of a type have been recorded.
func (r *AlertRecorder) Count(t AlertType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[t]
}

func (r *AlertRecorder) logSummary() {
	r.mu.Lock()
	total := len(r.history)
	byType := make(map[AlertType]int, len(r.counts))
	for t, c := range r.counts {
		byType[t] = c
	}
	r.mu.Unlock()

	if total == 0 {
		return
	}
	log.Printf("Webhook security alerts: %d retained, totals %v", total, byType)
}
