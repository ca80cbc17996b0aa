package audit

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rezapp/backend/internal/models"
)

type captureSink struct {
	mu      sync.Mutex
	entries []models.SubscriptionAuditLog
}

func (s *captureSink) Write(entry models.SubscriptionAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestLoggerDrainsOnStop(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink, 4)
	logger.Start()

	logger.Record(models.AuditActionCreated, uuid.New(), nil, nil, nil, nil)
	logger.Record(models.AuditActionCancelled, uuid.New(), nil, nil, nil, nil)
	logger.Stop()

	assert.Equal(t, 2, sink.count())
	assert.Zero(t, logger.Dropped())
}

func TestLoggerCountsDropsWhenFull(t *testing.T) {
	logger := NewLogger(&captureSink{}, 1)

	// No writer is running, so the second entry has nowhere to go.
	logger.Record(models.AuditActionCreated, uuid.New(), nil, nil, nil, nil)
	logger.Record(models.AuditActionCancelled, uuid.New(), nil, nil, nil, nil)

	assert.Equal(t, int64(1), logger.Dropped())
}
