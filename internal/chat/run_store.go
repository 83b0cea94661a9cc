// Package chat holds the chat-domain persistence and LLM collaborators the
// ingress surface and the agent runtime share: message history, run status
// tracking, the transactional ingress write and the chat LLM capability.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// CreateQueuedRunInput describes a new run to record at ingress time.
type CreateQueuedRunInput struct {
	ID            string
	ThreadID      string
	CorrelationID string
}

// UpdateRunStatusInput moves a run along its status progression. SafeError is
// stored only when the status is failed.
type UpdateRunStatusInput struct {
	RunID     string
	Status    models.RunStatus
	SafeError string
}

// RunStore tracks chat runs. Runs are created queued at ingress and mutated
// only by the runtime.
type RunStore interface {
	CreateQueuedRun(ctx context.Context, in CreateQueuedRunInput) (models.ChatRun, error)
	UpdateRunStatus(ctx context.Context, in UpdateRunStatusInput) (*models.ChatRun, error)
	GetRunByID(ctx context.Context, runID string) (*models.ChatRun, error)
}

// PostgresRunStore persists runs in the runs table.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a Postgres-backed run store.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// CreateQueuedRun inserts the owning thread if absent and records the run as
// queued.
func (s *PostgresRunStore) CreateQueuedRun(ctx context.Context, in CreateQueuedRunInput) (models.ChatRun, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		in.ThreadID,
	)
	if err != nil {
		return models.ChatRun{}, fmt.Errorf("failed to ensure thread: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, thread_id, correlation_id, status)
		 VALUES ($1, $2, $3, $4)`,
		in.ID, in.ThreadID, in.CorrelationID, models.RunStatusQueued,
	)
	if err != nil {
		return models.ChatRun{}, fmt.Errorf("failed to create queued run: %w", err)
	}

	run, err := s.GetRunByID(ctx, in.ID)
	if err != nil {
		return models.ChatRun{}, err
	}
	if run == nil {
		return models.ChatRun{}, fmt.Errorf("failed to read back queued run %s", in.ID)
	}

	return *run, nil
}

// UpdateRunStatus sets the status and, for failed runs, the safe error. A
// missing run id returns nil without error.
func (s *PostgresRunStore) UpdateRunStatus(ctx context.Context, in UpdateRunStatusInput) (*models.ChatRun, error) {
	var safeError *string
	if in.Status == models.RunStatusFailed && in.SafeError != "" {
		safeError = &in.SafeError
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $1, safe_error = $2, updated_at = NOW()
		WHERE id = $3
	`, in.Status, safeError, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to update run status: %w", err)
	}

	return s.GetRunByID(ctx, in.RunID)
}

// GetRunByID retrieves a run, or nil when it does not exist.
func (s *PostgresRunStore) GetRunByID(ctx context.Context, runID string) (*models.ChatRun, error) {
	var run models.ChatRun

	err := s.pool.QueryRow(ctx, `
		SELECT id, thread_id, correlation_id, status, safe_error, created_at, updated_at
		FROM runs
		WHERE id = $1
	`, runID).Scan(
		&run.ID,
		&run.ThreadID,
		&run.CorrelationID,
		&run.Status,
		&run.SafeError,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}
