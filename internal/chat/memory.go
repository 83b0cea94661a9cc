package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/outbox"
)

// MemoryMessageStore is an in-memory message store for tests.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// NewMemoryMessageStore creates an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

// CreateIncomingMessage records a user message.
func (s *MemoryMessageStore) CreateIncomingMessage(_ context.Context, in CreateIncomingMessageInput) (PersistedMessage, error) {
	return s.append(in.ThreadID, models.MessageRoleUser, in.Content, in.CorrelationID), nil
}

// CreateAssistantMessage records an assistant message.
func (s *MemoryMessageStore) CreateAssistantMessage(_ context.Context, in CreateAssistantMessageInput) (PersistedMessage, error) {
	return s.append(in.ThreadID, models.MessageRoleAssistant, in.Content, in.CorrelationID), nil
}

func (s *MemoryMessageStore) append(threadID string, role models.MessageRole, content, correlationID string) PersistedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := models.ChatMessage{
		ID:            uuid.New().String(),
		ThreadID:      threadID,
		Role:          role,
		Content:       content,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	s.messages = append(s.messages, message)

	return PersistedMessage{
		MessageID: message.ID,
		ThreadID:  threadID,
	}
}

// ListMessagesByThreadID returns the thread's messages in insertion order.
func (s *MemoryMessageStore) ListMessagesByThreadID(_ context.Context, threadID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []models.ChatMessage
	for _, message := range s.messages {
		if message.ThreadID == threadID {
			messages = append(messages, message)
		}
	}

	return messages, nil
}

// MemoryRunStore is an in-memory run store for tests.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]models.ChatRun
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]models.ChatRun),
	}
}

// CreateQueuedRun records a run as queued.
func (s *MemoryRunStore) CreateQueuedRun(_ context.Context, in CreateQueuedRunInput) (models.ChatRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	run := models.ChatRun{
		ID:            in.ID,
		ThreadID:      in.ThreadID,
		CorrelationID: in.CorrelationID,
		Status:        models.RunStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.runs[run.ID] = run

	return run, nil
}

// UpdateRunStatus sets the status and, for failed runs, the safe error.
// Missing ids return nil without error.
func (s *MemoryRunStore) UpdateRunStatus(_ context.Context, in UpdateRunStatusInput) (*models.ChatRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[in.RunID]
	if !ok {
		return nil, nil
	}

	run.Status = in.Status
	run.SafeError = nil
	if in.Status == models.RunStatusFailed && in.SafeError != "" {
		safeError := in.SafeError
		run.SafeError = &safeError
	}
	run.UpdatedAt = time.Now().UTC()
	s.runs[in.RunID] = run

	return &run, nil
}

// GetRunByID retrieves a run, or nil when it does not exist.
func (s *MemoryRunStore) GetRunByID(_ context.Context, runID string) (*models.ChatRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}

	return &run, nil
}

// ListRunsByThreadID returns the thread's runs, oldest first; used by tests.
func (s *MemoryRunStore) ListRunsByThreadID(threadID string) []models.ChatRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []models.ChatRun
	for _, run := range s.runs {
		if run.ThreadID == threadID {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs
}

// MemoryIngressStore composes in-memory message, run and outbox stores so the
// ingress write stays observable end to end in tests.
type MemoryIngressStore struct {
	Messages *MemoryMessageStore
	Runs     *MemoryRunStore
	Outbox   *outbox.MemoryStore
}

// NewMemoryIngressStore creates an in-memory ingress store over fresh
// component stores.
func NewMemoryIngressStore() *MemoryIngressStore {
	return &MemoryIngressStore{
		Messages: NewMemoryMessageStore(),
		Runs:     NewMemoryRunStore(),
		Outbox:   outbox.NewMemoryStore(),
	}
}

// CreateIncomingMessageAndQueueRun records the message, the queued run and
// the pending requested event.
func (s *MemoryIngressStore) CreateIncomingMessageAndQueueRun(ctx context.Context, in CreateIncomingMessageAndQueueRunInput) (IngressRecord, error) {
	event, err := models.NewAgentEvent(models.EventTypeAgentRunRequested, in.CorrelationID, models.AgentRunRequestedPayload{
		Prompt:          in.Content,
		ThreadID:        in.ThreadID,
		RunID:           in.RunID,
		Model:           in.Model,
		SimulateFailure: in.SimulateFailure,
	})
	if err != nil {
		return IngressRecord{}, err
	}
	if in.EventID != "" {
		event.ID = in.EventID
	}

	persisted, err := s.Messages.CreateIncomingMessage(ctx, CreateIncomingMessageInput{
		ThreadID:      in.ThreadID,
		Content:       in.Content,
		CorrelationID: in.CorrelationID,
	})
	if err != nil {
		return IngressRecord{}, err
	}

	if _, err := s.Runs.CreateQueuedRun(ctx, CreateQueuedRunInput{
		ID:            in.RunID,
		ThreadID:      in.ThreadID,
		CorrelationID: in.CorrelationID,
	}); err != nil {
		return IngressRecord{}, err
	}

	if err := s.Outbox.CreatePendingEvent(ctx, event); err != nil {
		return IngressRecord{}, err
	}

	return IngressRecord{
		MessageID:     persisted.MessageID,
		ThreadID:      in.ThreadID,
		RunID:         in.RunID,
		CorrelationID: in.CorrelationID,
	}, nil
}
