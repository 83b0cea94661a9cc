package models

import (
	"time"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ChatMessage is one persisted message in a thread's history.
type ChatMessage struct {
	ID            string      `json:"id" db:"id"`
	ThreadID      string      `json:"thread_id" db:"thread_id"`
	Role          MessageRole `json:"role" db:"role"`
	Content       string      `json:"content" db:"content"`
	CorrelationID string      `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}
