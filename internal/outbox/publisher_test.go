package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

type fakeBus struct {
	published []models.AgentEvent
	failFor   map[string]error
}

func newFakeBus() *fakeBus {
	return &fakeBus{failFor: make(map[string]error)}
}

func (b *fakeBus) Publish(_ context.Context, event models.AgentEvent) error {
	if err, ok := b.failFor[event.ID]; ok {
		return err
	}
	b.published = append(b.published, event)
	return nil
}

func stagePendingEvent(t *testing.T, store *MemoryStore, correlationID string) models.AgentEvent {
	t.Helper()

	event, err := models.NewAgentEvent(models.EventTypeAgentRunRequested, correlationID, models.AgentRunRequestedPayload{
		Prompt: "hello",
		RunID:  "run-" + correlationID,
	})
	require.NoError(t, err)
	require.NoError(t, store.CreatePendingEvent(context.Background(), event))

	return event
}

func TestPublisher_ProcessOnce_PublishesPendingEvents(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	event := stagePendingEvent(t, store, "corr-1")

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})

	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	require.Len(t, bus.published, 1)
	assert.Equal(t, event.ID, bus.published[0].ID)

	record, ok := store.GetByID(event.ID)
	require.True(t, ok)
	assert.Equal(t, models.OutboxEventStatusPublished, record.Status)
	assert.Nil(t, record.LastError)
	assert.NotNil(t, record.PublishedAt)
}

func TestPublisher_ProcessOnce_RecordsFailure(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	event := stagePendingEvent(t, store, "corr-1")
	bus.failFor[event.ID] = errors.New("redis unavailable")

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})

	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Empty(t, bus.published)

	record, ok := store.GetByID(event.ID)
	require.True(t, ok)
	assert.Equal(t, models.OutboxEventStatusFailed, record.Status)
	assert.Equal(t, 1, record.Attempts)
	require.NotNil(t, record.LastError)
	assert.Equal(t, "redis unavailable", *record.LastError)
}

func TestPublisher_ProcessOnce_FailureDoesNotAbortBatch(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	failing := stagePendingEvent(t, store, "corr-1")
	surviving := stagePendingEvent(t, store, "corr-2")
	bus.failFor[failing.ID] = errors.New("boom")

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})

	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	require.Len(t, bus.published, 1)
	assert.Equal(t, surviving.ID, bus.published[0].ID)

	failedRecord, _ := store.GetByID(failing.ID)
	assert.Equal(t, models.OutboxEventStatusFailed, failedRecord.Status)
	publishedRecord, _ := store.GetByID(surviving.ID)
	assert.Equal(t, models.OutboxEventStatusPublished, publishedRecord.Status)
}

func TestPublisher_ProcessOnce_RetriesFailedThenClearsError(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	event := stagePendingEvent(t, store, "corr-1")
	bus.failFor[event.ID] = errors.New("transient outage")

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})

	_, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)

	// Next pass succeeds; the failed row is retry-eligible.
	delete(bus.failFor, event.ID)
	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	record, _ := store.GetByID(event.ID)
	assert.Equal(t, models.OutboxEventStatusPublished, record.Status)
	assert.Nil(t, record.LastError)
	assert.Equal(t, 1, record.Attempts)
}

func TestPublisher_ProcessOnce_PublishedIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	stagePendingEvent(t, store, "corr-1")

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})

	_, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, bus.published, 1)

	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "published rows are never re-listed")
	assert.Len(t, bus.published, 1)
}

func TestPublisher_ProcessOnce_HonorsBatchSize(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()
	for i := 0; i < 5; i++ {
		stagePendingEvent(t, store, string(rune('a'+i)))
	}

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, BatchSize: 2, Logger: zerolog.Nop()})

	processed, err := publisher.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Len(t, bus.published, 2)
}

func TestPublisher_StartStop(t *testing.T) {
	store := NewMemoryStore()
	bus := newFakeBus()

	publisher := NewPublisher(PublisherConfig{Store: store, Bus: bus, Logger: zerolog.Nop()})
	publisher.Start()
	publisher.Start() // second Start is a no-op
	publisher.Stop()
	publisher.Stop() // second Stop is a no-op
}
