package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute)

	tokenString, err := manager.GenerateAccessToken("alice", "alice_w")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := manager.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "alice_w", claims.Username)
	assert.Equal(t, "voxlink-auth", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute)
	other := NewManager("another-secret-key-also-32-chars!!!", 15*time.Minute)

	tokenString, err := manager.GenerateAccessToken("alice", "alice_w")
	require.NoError(t, err)

	_, err = other.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateExpiredToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", -1*time.Minute)

	tokenString, err := manager.GenerateAccessToken("alice", "alice_w")
	require.NoError(t, err)

	_, err = manager.ValidateToken(tokenString)
	assert.Error(t, err)
	assert.True(t, IsTokenExpired(tokenString))
}

func TestIsTokenExpiredGarbage(t *testing.T) {
	assert.True(t, IsTokenExpired("not-a-token"))
}
