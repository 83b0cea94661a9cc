package models

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle status of a chat run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// ChatRun tracks one asynchronous chat turn from ingress to completion.
// The status progresses strictly queued -> processing -> completed|failed.
// SafeError is present only when the run failed and never carries raw
// exception text.
type ChatRun struct {
	ID            string     `json:"id" db:"id"`
	ThreadID      string     `json:"thread_id" db:"thread_id"`
	CorrelationID string     `json:"correlation_id" db:"correlation_id"`
	Status        RunStatus  `json:"status" db:"status"`
	SafeError     *string    `json:"safe_error,omitempty" db:"safe_error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// ValidateRunTransition validates if a run status transition is allowed.
func ValidateRunTransition(current, next RunStatus) error {
	validTransitions := map[RunStatus][]RunStatus{
		RunStatusQueued:     {RunStatusProcessing},
		RunStatusProcessing: {RunStatusCompleted, RunStatusFailed},
		RunStatusCompleted:  {}, // Terminal state
		RunStatusFailed:     {}, // Terminal state
	}

	allowedNext, exists := validTransitions[current]
	if !exists {
		return fmt.Errorf("invalid current status: %s", current)
	}

	for _, allowed := range allowedNext {
		if allowed == next {
			return nil
		}
	}

	return fmt.Errorf("invalid status transition from %s to %s", current, next)
}
