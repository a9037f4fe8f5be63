package identity

import (
	"testing"
	"time"

	"ringlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndResolve(t *testing.T) {
	provider := NewProvider("test-secret", time.Hour)

	token, err := provider.IssueToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := provider.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	provider := NewProvider("test-secret", -time.Minute)

	token, err := provider.IssueToken("alice", "Alice")
	require.NoError(t, err)

	_, err = provider.Resolve(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	token, err := NewProvider("secret-a", time.Hour).IssueToken("alice", "Alice")
	require.NoError(t, err)

	_, err = NewProvider("secret-b", time.Hour).Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsGarbage(t *testing.T) {
	_, err := NewProvider("test-secret", time.Hour).Resolve("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
