package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentEventType identifies the semantic fact an event announces.
type AgentEventType string

// Event types carried on the bus.
const (
	EventTypeAgentRunRequested AgentEventType = "agent.run.requested"
	EventTypeAgentRunCompleted AgentEventType = "agent.run.completed"
	EventTypeAgentRunFailed    AgentEventType = "agent.run.failed"
)

// AgentEvent is the wire-stable envelope exchanged between the outbox, the
// stream bus and the agent runtime. It is immutable once constructed; the
// payload shape is keyed by Type.
type AgentEvent struct {
	ID            string          `json:"id"`
	Type          AgentEventType  `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// AgentRunRequestedPayload asks the runtime to produce one assistant turn.
type AgentRunRequestedPayload struct {
	Prompt          string `json:"prompt"`
	ThreadID        string `json:"threadId"`
	RunID           string `json:"runId"`
	Model           string `json:"model,omitempty"`
	SimulateFailure bool   `json:"simulateFailure,omitempty"`
}

// AgentRunCompletedPayload reports the assistant output for a request event.
type AgentRunCompletedPayload struct {
	RequestEventID string `json:"requestEventId"`
	Output         string `json:"output"`
}

// AgentRunFailedPayload reports a terminal processing failure. Error carries
// only the fixed safe message, never raw exception detail.
type AgentRunFailedPayload struct {
	RequestEventID string `json:"requestEventId"`
	Error          string `json:"error"`
}

// NewAgentEvent builds an envelope of the given type around a payload value.
func NewAgentEvent(eventType AgentEventType, correlationID string, payload any) (AgentEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return AgentEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return AgentEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       data,
	}, nil
}

// RequestedPayload decodes the payload of an agent.run.requested event.
func (e AgentEvent) RequestedPayload() (AgentRunRequestedPayload, error) {
	var payload AgentRunRequestedPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return AgentRunRequestedPayload{}, fmt.Errorf("failed to decode requested payload: %w", err)
	}
	return payload, nil
}

// CompletedPayload decodes the payload of an agent.run.completed event.
func (e AgentEvent) CompletedPayload() (AgentRunCompletedPayload, error) {
	var payload AgentRunCompletedPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return AgentRunCompletedPayload{}, fmt.Errorf("failed to decode completed payload: %w", err)
	}
	return payload, nil
}

// FailedPayload decodes the payload of an agent.run.failed event.
func (e AgentEvent) FailedPayload() (AgentRunFailedPayload, error) {
	var payload AgentRunFailedPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return AgentRunFailedPayload{}, fmt.Errorf("failed to decode failed payload: %w", err)
	}
	return payload, nil
}

// OutboxEventStatus represents the status of an outbox event.
type OutboxEventStatus string

const (
	OutboxEventStatusPending   OutboxEventStatus = "pending"
	OutboxEventStatusPublished OutboxEventStatus = "published"
	OutboxEventStatusFailed    OutboxEventStatus = "failed"
)

// OutboxEvent is one row of the transactional outbox. The row is created in
// the same transaction as the domain write it announces and is mutated only
// by the outbox publisher. Published is terminal; pending and failed are both
// retry-eligible.
type OutboxEvent struct {
	ID          string            `json:"id" db:"id"`
	Event       AgentEvent        `json:"event" db:"payload"`
	Status      OutboxEventStatus `json:"status" db:"status"`
	Attempts    int               `json:"attempts" db:"attempts"`
	LastError   *string           `json:"last_error,omitempty" db:"last_error"`
	PublishedAt *time.Time        `json:"published_at,omitempty" db:"published_at"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}
