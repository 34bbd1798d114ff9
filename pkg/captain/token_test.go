package captain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerIssueAndValidate(t *testing.T) {
	tm := NewTokenManager()
	tok, err := tm.Issue(7, "ada", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)

	got, err := tm.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, 7, got.UID)
	assert.Equal(t, "ada", got.Username)
}

func TestTokenManagerValidateRejectsUnknownToken(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.Validate("does-not-exist")
	assert.Error(t, err)
}

func TestTokenManagerValidateRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager()
	tok, err := tm.Issue(7, "ada", -time.Second)
	require.NoError(t, err)

	_, err = tm.Validate(tok.Token)
	assert.Error(t, err)
}

func TestTokenManagerRevoke(t *testing.T) {
	tm := NewTokenManager()
	tok, err := tm.Issue(7, "ada", time.Hour)
	require.NoError(t, err)

	tm.Revoke(tok.Token)
	_, err = tm.Validate(tok.Token)
	assert.Error(t, err)
}

func TestTokenManagerCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	tm := NewTokenManager()
	fresh, err := tm.Issue(1, "fresh", time.Hour)
	require.NoError(t, err)
	stale, err := tm.Issue(2, "stale", -time.Second)
	require.NoError(t, err)

	tm.CleanupExpired()

	_, err = tm.Validate(fresh.Token)
	assert.NoError(t, err)

	tm.mu.RLock()
	_, stillPresent := tm.tokens[stale.Token]
	tm.mu.RUnlock()
	assert.False(t, stillPresent)
}
