package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := NewJWTManagerWithKey("test-secret")
	ctx := context.Background()

	token, err := manager.GenerateToken(ctx, "user-1", "dev@example.com", []string{"user"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "dev@example.com", claims.Username)
	assert.Equal(t, []string{"user"}, claims.Roles)
	assert.Equal(t, "chat-orchestrator", claims.Issuer)
}

func TestJWTManager_RejectsWrongKey(t *testing.T) {
	ctx := context.Background()
	token, err := NewJWTManagerWithKey("secret-a").GenerateToken(ctx, "user-1", "dev@example.com", nil, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTManagerWithKey("secret-b").ValidateToken(ctx, token)
	assert.Error(t, err)
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	manager := NewJWTManagerWithKey("test-secret")
	ctx := context.Background()

	token, err := manager.GenerateToken(ctx, "user-1", "dev@example.com", nil, -time.Minute)
	require.NoError(t, err)

	_, err = manager.ValidateToken(ctx, token)
	assert.Error(t, err)
}

func TestJWTManager_RefreshToken(t *testing.T) {
	manager := NewJWTManagerWithKey("test-secret")
	ctx := context.Background()

	token, err := manager.GenerateToken(ctx, "user-1", "dev@example.com", []string{"user"}, time.Hour)
	require.NoError(t, err)

	refreshed, err := manager.RefreshToken(ctx, token, time.Hour)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(ctx, refreshed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}
