package reauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Token is a one-time 2FA token bound to a signing action.
type Token struct {
	ID           string    `json:"id"`
	EnvelopeID   string    `json:"envelope_id"`
	RecipientID  string    `json:"recipient_id"`
	SessionID    string    `json:"session_id"`
	Code         string    `json:"code"`
	Attempts     int       `json:"attempts"`
	AttemptLimit int       `json:"attempt_limit"`
	Revoked      bool      `json:"revoked"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrTokenNotFound is returned by a TokenStore when no token exists.
var ErrTokenNotFound = errors.New("reauth: token not found")

// TokenStore persists pending tokens for the duration of their TTL.
type TokenStore interface {
	Put(ctx context.Context, token Token) error
	Get(ctx context.Context, id string) (Token, error)
	Delete(ctx context.Context, id string) error
}

// MemoryTokenStore keeps tokens in-process. Expiry is enforced by the
// verifier against the token's ExpiresAt, not by eviction here.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]Token)}
}

func (s *MemoryTokenStore) Put(ctx context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return nil
}

func (s *MemoryTokenStore) Get(ctx context.Context, id string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return t, nil
}

func (s *MemoryTokenStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

// newCode produces a zero-padded numeric one-time code.
func newCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
