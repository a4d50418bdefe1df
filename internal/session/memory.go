package session

import (
	"context"
	"sync"
	"time"

	"gospelpress/internal/crypto"
)

// MemoryStore keeps tokens in a process-local map. Every Validate sweeps the
// whole map before the lookup, so expired tokens never linger past the next
// check. Does not survive a restart and does not scale past one process.
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

// NewMemoryStore builds a store with the given validity window. A nil now
// defaults to time.Now; tests inject a fake clock.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		ttl:    ttl,
		now:    now,
		tokens: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Create(_ context.Context) (string, error) {
	token, err := crypto.NewSessionToken()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.tokens[token] = m.now()
	m.mu.Unlock()
	return token, nil
}

func (m *MemoryStore) Validate(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	_, ok := m.tokens[token]
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
	return nil
}

// sweep drops every token at or past the TTL boundary. Callers hold mu.
func (m *MemoryStore) sweep() {
	now := m.now()
	for token, issuedAt := range m.tokens {
		if now.Sub(issuedAt) >= m.ttl {
			delete(m.tokens, token)
		}
	}
}
