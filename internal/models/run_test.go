package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRunTransition(t *testing.T) {
	tests := []struct {
		name    string
		current RunStatus
		next    RunStatus
		wantErr bool
	}{
		{"queued to processing", RunStatusQueued, RunStatusProcessing, false},
		{"processing to completed", RunStatusProcessing, RunStatusCompleted, false},
		{"processing to failed", RunStatusProcessing, RunStatusFailed, false},
		{"queued to completed skips processing", RunStatusQueued, RunStatusCompleted, true},
		{"queued to failed skips processing", RunStatusQueued, RunStatusFailed, true},
		{"completed is terminal", RunStatusCompleted, RunStatusProcessing, true},
		{"failed is terminal", RunStatusFailed, RunStatusProcessing, true},
		{"unknown current status", RunStatus("unknown"), RunStatusProcessing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunTransition(tt.current, tt.next)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
