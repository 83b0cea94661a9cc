package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/bus"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/chat"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/outbox"
)

// Covers the full asynchronous path: ingress write, outbox relay, runtime
// consumption and the terminal event, over a real stream with miniredis.
func TestChatTurn_EndToEnd(t *testing.T) {
	ctx := context.Background()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	streamBus := bus.NewRedisStreamBus(client, "agent-events", zerolog.Nop())
	ingress := chat.NewMemoryIngressStore()
	publisher := outbox.NewPublisher(outbox.PublisherConfig{
		Store:  ingress.Outbox,
		Bus:    streamBus,
		Logger: zerolog.Nop(),
	})
	agentRuntime := NewAgentRuntime(RuntimeConfig{
		Bus:          streamBus,
		RunStore:     ingress.Runs,
		MessageStore: ingress.Messages,
		ReadBlock:    10 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, agentRuntime.Init(ctx))
	// A second group observing the same stream, registered before any
	// publish so it sees every entry.
	require.NoError(t, streamBus.EnsureConsumerGroup(ctx, "observers"))

	// Ingress: user message, queued run, pending outbox event.
	record, err := ingress.CreateIncomingMessageAndQueueRun(ctx, chat.CreateIncomingMessageAndQueueRunInput{
		ThreadID:      "thr_e2e",
		RunID:         "run-e2e",
		Content:       "What changed in the last release?",
		CorrelationID: "corr-e2e",
	})
	require.NoError(t, err)

	// Outbox relay moves the requested event onto the stream.
	processed, err := publisher.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	// Runtime consumes the request and publishes the completion.
	processed, err = agentRuntime.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	run, err := ingress.Runs.GetRunByID(ctx, record.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	messages, err := ingress.Messages.ListMessagesByThreadID(ctx, record.ThreadID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.MessageRoleUser, messages[0].Role)
	assert.Equal(t, models.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "Handled prompt: What changed in the last release?", messages[1].Content)

	// Both the request and its completion are on the stream for downstream
	// consumers.
	entries, err := streamBus.ReadGroup(ctx, "observers", "observer-1", bus.ReadGroupOptions{Block: 10 * time.Millisecond, Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EventTypeAgentRunRequested, entries[0].Event.Type)
	assert.Equal(t, models.EventTypeAgentRunCompleted, entries[1].Event.Type)
	assert.Equal(t, "corr-e2e", entries[1].Event.CorrelationID)

	payload, err := entries[1].Event.CompletedPayload()
	require.NoError(t, err)
	assert.Equal(t, entries[0].Event.ID, payload.RequestEventID)
}
