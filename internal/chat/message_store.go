package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// CreateIncomingMessageInput records a user message at ingress time.
type CreateIncomingMessageInput struct {
	ThreadID      string
	Content       string
	CorrelationID string
}

// CreateAssistantMessageInput records the runtime's assistant reply.
type CreateAssistantMessageInput struct {
	ThreadID      string
	Content       string
	CorrelationID string
}

// PersistedMessage identifies a stored message.
type PersistedMessage struct {
	MessageID string
	ThreadID  string
}

// MessageStore persists and lists thread history.
type MessageStore interface {
	CreateIncomingMessage(ctx context.Context, in CreateIncomingMessageInput) (PersistedMessage, error)
	CreateAssistantMessage(ctx context.Context, in CreateAssistantMessageInput) (PersistedMessage, error)
	ListMessagesByThreadID(ctx context.Context, threadID string) ([]models.ChatMessage, error)
}

// PostgresMessageStore persists messages in the messages table.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMessageStore creates a Postgres-backed message store.
func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

// CreateIncomingMessage inserts the owning thread if absent and records the
// user message.
func (s *PostgresMessageStore) CreateIncomingMessage(ctx context.Context, in CreateIncomingMessageInput) (PersistedMessage, error) {
	return s.createMessage(ctx, in.ThreadID, models.MessageRoleUser, in.Content, in.CorrelationID)
}

// CreateAssistantMessage records the assistant reply in the same thread,
// tagged with the request's correlation id.
func (s *PostgresMessageStore) CreateAssistantMessage(ctx context.Context, in CreateAssistantMessageInput) (PersistedMessage, error) {
	return s.createMessage(ctx, in.ThreadID, models.MessageRoleAssistant, in.Content, in.CorrelationID)
}

func (s *PostgresMessageStore) createMessage(ctx context.Context, threadID string, role models.MessageRole, content, correlationID string) (PersistedMessage, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		threadID,
	)
	if err != nil {
		return PersistedMessage{}, fmt.Errorf("failed to ensure thread: %w", err)
	}

	messageID := uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, role, content, correlation_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		messageID, threadID, role, content, correlationID,
	)
	if err != nil {
		return PersistedMessage{}, fmt.Errorf("failed to create %s message: %w", role, err)
	}

	return PersistedMessage{
		MessageID: messageID,
		ThreadID:  threadID,
	}, nil
}

// ListMessagesByThreadID returns the thread's history, oldest first.
func (s *PostgresMessageStore) ListMessagesByThreadID(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, role, content, correlation_id, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var message models.ChatMessage
		err := rows.Scan(
			&message.ID,
			&message.ThreadID,
			&message.Role,
			&message.Content,
			&message.CorrelationID,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
