package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/agentloop"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/bus"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/chat"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

const (
	defaultConsumerGroup = "agent-runtime"
	defaultConsumerName  = "agent-runtime-1"
	defaultReadCount     = 10
	errorIdleInterval    = 250 * time.Millisecond
)

// EventBus is the bus surface the runtime consumes.
type EventBus interface {
	Publish(ctx context.Context, event models.AgentEvent) error
	EnsureConsumerGroup(ctx context.Context, groupName string) error
	ReadGroup(ctx context.Context, groupName, consumerName string, opts bus.ReadGroupOptions) ([]bus.StreamEntry, error)
	Acknowledge(ctx context.Context, groupName, streamEntryID string) error
}

// RuntimeConfig configures the agent runtime consumer.
type RuntimeConfig struct {
	Bus           EventBus
	RunStore      chat.RunStore     // optional; nil skips status updates
	MessageStore  chat.MessageStore // optional; nil skips persistence and history
	LlmService    chat.ChatLlmService
	ConsumerGroup string
	ConsumerName  string
	DefaultModel  string
	SummaryModel  string
	// MemoryRecentMessageCount bounds the chat loop's recency window.
	MemoryRecentMessageCount int
	MaxIterations            int
	ReadBlock                time.Duration
	// ReadCount caps entries taken per poll, default 10.
	ReadCount       int64
	CheckpointStore ChatCheckpointStore
	EventEmitter    ChatLoopEmitter
	Logger          zerolog.Logger
	Metrics         *metrics.RunMetrics // optional
}

// AgentRuntime consumes requested events from the bus, runs the chat agent
// loop for each and reports the outcome. Every claimed entry is acknowledged
// after its terminal event is published, success or failure, so a request is
// never processed twice by the same group.
type AgentRuntime struct {
	bus           EventBus
	runStore      chat.RunStore
	messageStore  chat.MessageStore
	chatLoop      *ChatAgentLoop
	consumerGroup string
	consumerName  string
	readBlock     time.Duration
	readCount     int64
	logger        zerolog.Logger
	tracer        trace.Tracer
	metrics       *metrics.RunMetrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewAgentRuntime creates a runtime over the given bus and collaborators.
func NewAgentRuntime(cfg RuntimeConfig) *AgentRuntime {
	consumerGroup := cfg.ConsumerGroup
	if consumerGroup == "" {
		consumerGroup = defaultConsumerGroup
	}
	consumerName := cfg.ConsumerName
	if consumerName == "" {
		consumerName = defaultConsumerName
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = defaultReadCount
	}

	chatLoop := NewChatAgentLoop(ChatAgentLoopConfig{
		LlmService:               cfg.LlmService,
		MessageStore:             cfg.MessageStore,
		DefaultModel:             cfg.DefaultModel,
		SummaryModel:             cfg.SummaryModel,
		MemoryRecentMessageCount: cfg.MemoryRecentMessageCount,
		MaxIterations:            cfg.MaxIterations,
		CheckpointStore:          cfg.CheckpointStore,
		EventEmitter:             cfg.EventEmitter,
	})

	return &AgentRuntime{
		bus:           cfg.Bus,
		runStore:      cfg.RunStore,
		messageStore:  cfg.MessageStore,
		chatLoop:      chatLoop,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		readBlock:     cfg.ReadBlock,
		readCount:     readCount,
		logger:        cfg.Logger,
		tracer:        otel.Tracer("agent-runtime"),
		metrics:       cfg.Metrics,
	}
}

// Init ensures the runtime's consumer group exists. Safe to call repeatedly.
func (r *AgentRuntime) Init(ctx context.Context) error {
	return r.bus.EnsureConsumerGroup(ctx, r.consumerGroup)
}

// ProcessOnce claims up to ReadCount entries and processes each sequentially.
// It returns the number of entries claimed; per-entry failures are handled
// inside the entry's own failure path and never abort the batch.
func (r *AgentRuntime) ProcessOnce(ctx context.Context) (int, error) {
	entries, err := r.bus.ReadGroup(ctx, r.consumerGroup, r.consumerName, bus.ReadGroupOptions{
		Block: r.readBlock,
		Count: r.readCount,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read stream entries: %w", err)
	}

	for _, entry := range entries {
		r.processEntry(ctx, entry)
	}

	return len(entries), nil
}

// Start launches the consume loop. It returns an error if the runtime is
// already running.
func (r *AgentRuntime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("agent runtime already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.consume(ctx)

	r.logger.Info().
		Str("consumerGroup", r.consumerGroup).
		Str("consumerName", r.consumerName).
		Msg("agent runtime started")

	return nil
}

// Stop signals the consume loop and waits for it to drain.
func (r *AgentRuntime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done

	r.logger.Info().Msg("agent runtime stopped")
}

func (r *AgentRuntime) consume(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := r.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Msg("runtime poll failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(errorIdleInterval):
			}
		}
	}
}

// processEntry handles one claimed entry end to end. The entry is always
// acknowledged before returning, after any terminal event was published.
func (r *AgentRuntime) processEntry(ctx context.Context, entry bus.StreamEntry) {
	ctx, span := r.tracer.Start(ctx, "runtime.process_entry",
		trace.WithAttributes(
			attribute.String("event.id", entry.Event.ID),
			attribute.String("event.type", string(entry.Event.Type)),
			attribute.String("correlation.id", entry.Event.CorrelationID),
		),
	)
	defer span.End()

	defer func() {
		if err := r.bus.Acknowledge(ctx, r.consumerGroup, entry.StreamEntryID); err != nil {
			r.logger.Error().
				Err(err).
				Str("streamEntryId", entry.StreamEntryID).
				Msg("failed to acknowledge stream entry")
		}
	}()

	if entry.Event.Type != models.EventTypeAgentRunRequested {
		r.logger.Debug().
			Str("eventId", entry.Event.ID).
			Str("eventType", string(entry.Event.Type)).
			Msg("skipping non-request event")
		return
	}

	payload, err := entry.Event.RequestedPayload()
	if err != nil {
		span.RecordError(err)
		r.logger.Error().
			Err(err).
			Str("eventId", entry.Event.ID).
			Msg("failed to decode request payload")
		return
	}

	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordRunStarted(ctx, payload.ThreadID)
	}

	if err := r.processRequest(ctx, entry.Event, payload); err != nil {
		span.RecordError(err)
		r.logger.Error().
			Err(err).
			Str("eventId", entry.Event.ID).
			Str("runId", payload.RunID).
			Str("correlationId", entry.Event.CorrelationID).
			Msg("agent run failed")

		r.reportFailure(ctx, entry.Event, payload)

		if r.metrics != nil {
			r.metrics.RecordRunFailed(ctx, payload.ThreadID, "runtime_error", time.Since(start))
		}
		return
	}

	r.logger.Info().
		Str("eventId", entry.Event.ID).
		Str("runId", payload.RunID).
		Str("correlationId", entry.Event.CorrelationID).
		Msg("agent run completed")

	if r.metrics != nil {
		r.metrics.RecordRunCompleted(ctx, payload.ThreadID, time.Since(start))
	}
}

// processRequest runs the happy path for one requested event: processing
// status, chat loop, assistant message, completed event, completed status.
func (r *AgentRuntime) processRequest(ctx context.Context, event models.AgentEvent, payload models.AgentRunRequestedPayload) error {
	if err := r.updateRunStatus(ctx, payload.RunID, models.RunStatusProcessing, ""); err != nil {
		return err
	}

	if payload.SimulateFailure {
		return errors.New("simulated runtime failure requested")
	}

	result := r.chatLoop.Run(ctx, ChatLoopRunInput{
		SessionID:     payload.RunID,
		ThreadID:      payload.ThreadID,
		CorrelationID: event.CorrelationID,
		Prompt:        payload.Prompt,
		Model:         payload.Model,
	})
	if result.Reason != agentloop.ReasonSuccess {
		return fmt.Errorf("chat loop stopped with reason %s: %s", result.Reason, result.Error)
	}

	if r.messageStore != nil {
		_, err := r.messageStore.CreateAssistantMessage(ctx, chat.CreateAssistantMessageInput{
			ThreadID:      payload.ThreadID,
			Content:       result.Output,
			CorrelationID: event.CorrelationID,
		})
		if err != nil {
			return err
		}
	}

	completed, err := models.NewAgentEvent(models.EventTypeAgentRunCompleted, event.CorrelationID, models.AgentRunCompletedPayload{
		RequestEventID: event.ID,
		Output:         result.Output,
	})
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, completed); err != nil {
		return err
	}

	return r.updateRunStatus(ctx, payload.RunID, models.RunStatusCompleted, "")
}

// reportFailure publishes the failed event with the fixed safe message and
// marks the run failed. Raw error detail never leaves the logs.
func (r *AgentRuntime) reportFailure(ctx context.Context, event models.AgentEvent, payload models.AgentRunRequestedPayload) {
	failed, err := models.NewAgentEvent(models.EventTypeAgentRunFailed, event.CorrelationID, models.AgentRunFailedPayload{
		RequestEventID: event.ID,
		Error:          models.SafeRuntimeErrorMessage,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("eventId", event.ID).Msg("failed to build failure event")
	} else if err := r.bus.Publish(ctx, failed); err != nil {
		r.logger.Error().Err(err).Str("eventId", event.ID).Msg("failed to publish failure event")
	}

	if err := r.updateRunStatus(ctx, payload.RunID, models.RunStatusFailed, models.SafeRuntimeErrorMessage); err != nil {
		r.logger.Error().Err(err).Str("runId", payload.RunID).Msg("failed to mark run failed")
	}
}

func (r *AgentRuntime) updateRunStatus(ctx context.Context, runID string, status models.RunStatus, safeError string) error {
	if r.runStore == nil || runID == "" {
		return nil
	}

	_, err := r.runStore.UpdateRunStatus(ctx, chat.UpdateRunStatusInput{
		RunID:     runID,
		Status:    status,
		SafeError: safeError,
	})
	if err != nil {
		return fmt.Errorf("failed to move run %s to %s: %w", runID, status, err)
	}

	return nil
}
