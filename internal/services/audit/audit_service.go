// Package audit writes the append-only subscription history. Writes are
// fire-and-forget: a lost audit row is logged, never propagated to the
// business operation that triggered it.
package audit

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rezapp/backend/internal/models"
)

// Sink persists audit entries. Satisfied by the gorm-backed sink; tests
// substitute an in-memory one.
type Sink interface {
	Write(entry models.SubscriptionAuditLog) error
}

// GormSink writes audit entries to the database.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a database-backed audit sink.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Write inserts one audit row.
func (s *GormSink) Write(entry models.SubscriptionAuditLog) error {
	return s.db.Create(&entry).Error
}

// Logger queues audit entries onto a background writer. The buffer drops
// entries rather than blocking the caller when full; the drop count is
// tracked so operators can see the gap.
type Logger struct {
	sink    Sink
	entries chan models.SubscriptionAuditLog
	wg      sync.WaitGroup
	once    sync.Once
	dropped int64
}

// NewLogger creates an audit logger with the given buffer size.
func NewLogger(sink Sink, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	return &Logger{
		sink:    sink,
		entries: make(chan models.SubscriptionAuditLog, buffer),
	}
}

// Start launches the background writer.
func (l *Logger) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for entry := range l.entries {
			if err := l.sink.Write(entry); err != nil {
				log.Printf("Failed to write audit log entry (action=%s user=%s): %v", entry.Action, entry.UserID, err)
			}
		}
	}()
}

// Stop drains the queue and stops the writer.
func (l *Logger) Stop() {
	l.once.Do(func() {
		close(l.entries)
	})
	l.wg.Wait()
}

// Dropped returns how many entries were discarded because the buffer was
// full.
func (l *Logger) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Record queues an audit entry for a subscription transition. Never
// blocks and never returns an error.
func (l *Logger) Record(action models.AuditAction, userID uuid.UUID, subscriptionID *uuid.UUID, previous, next, metadata models.JSON) {
	entry := models.SubscriptionAuditLog{
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Action:         action,
		PreviousState:  previous,
		NewState:       next,
		Metadata:       metadata,
	}

	select {
	case l.entries <- entry:
	default:
		atomic.AddInt64(&l.dropped, 1)
		log.Printf("Audit buffer full, dropped entry (action=%s user=%s)", action, userID)
	}
}

// RecordTransition is a convenience wrapper capturing before/after
// snapshots of a subscription.
func (l *Logger) RecordTransition(action models.AuditAction, sub *models.Subscription, previous models.JSON, metadata models.JSON) {
	id := sub.ID
	l.Record(action, sub.UserID, &id, previous, sub.StateSnapshot(), metadata)
}
