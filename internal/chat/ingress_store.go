package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/outbox"
)

// CreateIncomingMessageAndQueueRunInput describes one ingress write.
type CreateIncomingMessageAndQueueRunInput struct {
	ThreadID      string
	RunID         string
	Content       string
	CorrelationID string
	Model         string
	// EventID overrides the generated request event id; used by tests.
	EventID string
	// SimulateFailure forces the runtime's failure path for this request.
	SimulateFailure bool
}

// IngressRecord identifies everything one ingress write produced.
type IngressRecord struct {
	MessageID     string
	ThreadID      string
	RunID         string
	CorrelationID string
}

// IngressStore performs the ingress write: user message, queued run and
// pending outbox event in one atomic unit.
type IngressStore interface {
	CreateIncomingMessageAndQueueRun(ctx context.Context, in CreateIncomingMessageAndQueueRunInput) (IngressRecord, error)
}

// PostgresIngressStore writes the thread, the user message, the queued run
// and the pending outbox row in a single database transaction, so the domain
// write and the staged event can never diverge.
type PostgresIngressStore struct {
	pool        *pgxpool.Pool
	outboxStore *outbox.PostgresStore
}

// NewPostgresIngressStore creates a Postgres-backed ingress store.
func NewPostgresIngressStore(pool *pgxpool.Pool, outboxStore *outbox.PostgresStore) *PostgresIngressStore {
	return &PostgresIngressStore{
		pool:        pool,
		outboxStore: outboxStore,
	}
}

// CreateIncomingMessageAndQueueRun records the chat turn and stages its
// requested event atomically.
func (s *PostgresIngressStore) CreateIncomingMessageAndQueueRun(ctx context.Context, in CreateIncomingMessageAndQueueRunInput) (IngressRecord, error) {
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

	messageID := uuid.New().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IngressRecord{}, fmt.Errorf("failed to start ingress transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO threads (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		in.ThreadID,
	)
	if err != nil {
		return IngressRecord{}, fmt.Errorf("failed to ensure thread: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, thread_id, role, content, correlation_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		messageID, in.ThreadID, models.MessageRoleUser, in.Content, in.CorrelationID,
	)
	if err != nil {
		return IngressRecord{}, fmt.Errorf("failed to create incoming message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, thread_id, correlation_id, status)
		 VALUES ($1, $2, $3, $4)`,
		in.RunID, in.ThreadID, in.CorrelationID, models.RunStatusQueued,
	)
	if err != nil {
		return IngressRecord{}, fmt.Errorf("failed to create queued run: %w", err)
	}

	if err := s.outboxStore.CreatePendingEvent(ctx, tx, event); err != nil {
		return IngressRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return IngressRecord{}, fmt.Errorf("failed to commit ingress transaction: %w", err)
	}

	return IngressRecord{
		MessageID:     messageID,
		ThreadID:      in.ThreadID,
		RunID:         in.RunID,
		CorrelationID: in.CorrelationID,
	}, nil
}
