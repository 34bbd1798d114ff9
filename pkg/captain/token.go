package captain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager manages bearer tokens issued by POST /login. Tokens are an
// opaque random string with a fixed TTL (CAPTAIN_TOKEN_TTL, default
// 3600s) — PAM authentication itself is an external collaborator (§1);
// this manager only tracks the tokens it hands out afterward.
type TokenManager struct {
	tokens map[string]*Token
	mu     sync.RWMutex
}

// Token represents one issued bearer token.
type Token struct {
	Token     string
	UID       int
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates a new token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*Token),
	}
}

// Issue generates a new bearer token for uid/username, valid for ttl.
func (tm *TokenManager) Issue(uid int, username string, ttl time.Duration) (*Token, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("captain: generate token: %w", err)
	}

	t := &Token{
		Token:     hex.EncodeToString(bytes),
		UID:       uid,
		Username:  username,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[t.Token] = t
	tm.mu.Unlock()

	return t, nil
}

// Validate returns the token record if token is present and unexpired.
func (tm *TokenManager) Validate(token string) (*Token, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	t, exists := tm.tokens[token]
	if !exists {
		return nil, fmt.Errorf("invalid token")
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, fmt.Errorf("token expired")
	}
	return t, nil
}

// Revoke invalidates a token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired removes expired tokens; called periodically by the
// reconciliation loop so the map doesn't grow unbounded.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, t := range tm.tokens {
		if now.After(t.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
