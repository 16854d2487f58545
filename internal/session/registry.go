package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Registry is the single source of truth for early token invalidation. A
// token must be present and live here to authenticate, independently of
// the expiry embedded in the token itself. Reads dominate (one check per
// authenticated request); writes happen once per login and logout.
type Registry interface {
	// Issue marks the token live for at most ttl.
	Issue(ctx context.Context, token string, ttl time.Duration) error
	// Check reports whether the token is still live. A missing or revoked
	// entry is false, not an error.
	Check(ctx context.Context, token string) (bool, error)
	// Revoke invalidates the token immediately; a no-op when absent.
	Revoke(ctx context.Context, token string) error
}

var errEmptyToken = errors.New("session: token is required")

// Memory is an in-process Registry for tests and single-node development
// runs. Entries past their ttl read as not live; no sweeper runs because
// the gateway independently enforces the embedded expiry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryWithClock injects a time source for expiry tests.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) Issue(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return errEmptyToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Check(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.entries[token]
	if !ok {
		return false, nil
	}
	return m.now().Before(deadline), nil
}

func (m *Memory) Revoke(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}
