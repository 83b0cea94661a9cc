package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// MemoryStore is an in-memory outbox store for tests and redis-less boots.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.OutboxEvent
}

// NewMemoryStore creates an empty in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.OutboxEvent),
	}
}

// CreatePendingEvent records a pending event with zero attempts.
func (s *MemoryStore) CreatePendingEvent(_ context.Context, event models.AgentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.records[event.ID] = models.OutboxEvent{
		ID:        event.ID,
		Event:     event,
		Status:    models.OutboxEventStatusPending,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return nil
}

// ListRetryableEvents returns up to limit pending or failed records, oldest
// first.
func (s *MemoryStore) ListRetryableEvents(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.OutboxEvent
	for _, record := range s.records {
		if record.Status == models.OutboxEventStatusPending || record.Status == models.OutboxEventStatusFailed {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// MarkPublished sets the terminal published status. Missing ids are a no-op.
func (s *MemoryStore) MarkPublished(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	record.Status = models.OutboxEventStatusPublished
	record.LastError = nil
	record.PublishedAt = &now
	record.UpdatedAt = now
	s.records[id] = record

	return nil
}

// MarkPublishFailed increments attempts and records the error. Missing ids
// are a no-op.
func (s *MemoryStore) MarkPublishFailed(_ context.Context, id string, publishErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}

	record.Status = models.OutboxEventStatusFailed
	record.Attempts++
	record.LastError = &publishErr
	record.UpdatedAt = time.Now().UTC()
	s.records[id] = record

	return nil
}

// GetByID returns a stored record for test assertions.
func (s *MemoryStore) GetByID(id string) (models.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	return record, ok
}
