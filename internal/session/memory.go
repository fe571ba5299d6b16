package session

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	userID    string
	expiresAt time.Time
}

// Memory is an in-process Store used in development mode and tests.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewMemory creates an in-memory session store with the given sliding TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Ping is a no-op.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Create mints a token for userID.
func (m *Memory) Create(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := newToken()
	m.entries[sessionKey(token)] = entry{userID: userID, expiresAt: m.now().Add(m.ttl)}
	return token, nil
}

// Resolve returns the user id for a token and slides its expiry.
func (m *Memory) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(token)
	e, ok := m.entries[key]
	if !ok {
		return "", nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", nil
	}

	e.expiresAt = m.now().Add(m.ttl)
	m.entries[key] = e
	return e.userID, nil
}

// Delete removes a session; deleting an unknown token is a no-op.
func (m *Memory) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionKey(token))
	return nil
}
