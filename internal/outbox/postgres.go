// Package outbox implements the transactional outbox: a persisted log of
// events pending delivery, written in the same database transaction as the
// domain change they announce, and a background publisher that relays them to
// the event bus with retry accounting.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// PostgresStore persists outbox events in the outbox_events table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore creates a Postgres-backed outbox store.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}
}

// CreatePendingEvent inserts a pending outbox row inside the caller's
// transaction. It must never run outside the transaction that also writes the
// triggering domain rows; the failure-atomicity guarantee rests on the two
// being one unit.
func (s *PostgresStore) CreatePendingEvent(ctx context.Context, tx pgx.Tx, event models.AgentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", event.ID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (id, event_type, payload, status, attempts)
		 VALUES ($1, $2, $3, $4, 0)`,
		event.ID, string(event.Type), string(payload), models.OutboxEventStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending outbox event: %w", err)
	}

	return nil
}

// ListRetryableEvents returns up to limit pending or failed records, oldest
// first. Rows whose stored payload no longer deserializes are excluded rather
// than failing the batch.
func (s *PostgresStore) ListRetryableEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payload, status, attempts, last_error, published_at, created_at, updated_at
		FROM outbox_events
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`, []string{string(models.OutboxEventStatusPending), string(models.OutboxEventStatusFailed)}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query retryable events: %w", err)
	}
	defer rows.Close()

	var records []models.OutboxEvent
	for rows.Next() {
		var record models.OutboxEvent
		var payload string
		err := rows.Scan(
			&record.ID,
			&payload,
			&record.Status,
			&record.Attempts,
			&record.LastError,
			&record.PublishedAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}

		if err := json.Unmarshal([]byte(payload), &record.Event); err != nil {
			s.logger.Warn().
				Str("outboxEventId", record.ID).
				Err(err).
				Msg("skipping outbox row with unparseable payload")
			continue
		}

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}

	return records, nil
}

// MarkPublished sets the terminal published status, stamps published_at and
// clears last_error. A missing id is a no-op, which makes the call idempotent.
func (s *PostgresStore) MarkPublished(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, published_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $2
	`, models.OutboxEventStatusPublished, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %s published: %w", id, err)
	}

	return nil
}

// MarkPublishFailed increments the attempt count and records the publish
// error. A missing id is a no-op.
func (s *PostgresStore) MarkPublishFailed(ctx context.Context, id string, publishErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, models.OutboxEventStatusFailed, publishErr, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %s failed: %w", id, err)
	}

	return nil
}
