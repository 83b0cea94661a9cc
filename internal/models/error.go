package models

// SafeRuntimeErrorMessage is the fixed, non-sensitive message stored on a
// failed run and carried in agent.run.failed events. Raw processing errors
// are logged but never cross the process boundary.
const SafeRuntimeErrorMessage = "Agent runtime failed to process the request."

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeRunNotFound    = "RUN_NOT_FOUND"
	ErrCodeThreadNotFound = "THREAD_NOT_FOUND"
)
