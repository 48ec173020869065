// Package auth defines the credential boundary used by the client: the
// session checks for a token before submitting, the transport sends it on
// connect, and the status client sends it on every poll.
package auth

import (
	"strings"
	"sync"
)

// Source supplies the current credential. Invalidate drops it after the
// server rejects it.
type Source interface {
	Token() string
	Invalidate()
}

// Static is an in-memory Source.
type Static struct {
	mu    sync.RWMutex
	token string
}

// NewStatic creates a Source holding token.
func NewStatic(token string) *Static {
	return &Static{token: strings.TrimSpace(token)}
}

// Token returns the held token, or "" once invalidated.
func (s *Static) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the held token.
func (s *Static) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// Invalidate clears the held token.
func (s *Static) Invalidate() {
	s.Set("")
}
