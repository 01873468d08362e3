package user

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a [Provider] when no principal has the requested ID.
var ErrNotFound = errors.New("user not found")

// ErrInvalidCredentials is returned by a [CredentialVerifier] on a failed check.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is the authenticated identity produced by a strategy.
//
// Principals are treated as read-only for the lifetime of a request.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"is_active"`
	Verified  bool   `json:"is_verified"`
	Superuser bool   `json:"is_superuser"`
	Poweruser bool   `json:"is_poweruser"`
}

// Provider resolves principals by ID.
type Provider interface {
	GetByID(ctx context.Context, id string) (*Principal, error)
}

// CredentialVerifier checks a username/password pair and returns the matching
// principal. Password hashing is the implementer's concern.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*Principal, error)
}

// MapProvider is an in-memory Provider keyed by principal ID.
type MapProvider struct {
	mu    sync.RWMutex
	users map[string]Principal
}

// NewMapProvider indexes principals by ID.
func NewMapProvider(principals ...Principal) *MapProvider {
	p := &MapProvider{users: make(map[string]Principal, len(principals))}
	for _, pr := range principals {
		p.users[pr.ID] = pr
	}
	return p
}

// Put inserts or replaces a principal.
func (m *MapProvider) Put(p Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[p.ID] = p
}

// GetByID returns a copy of the stored principal.
func (m *MapProvider) GetByID(ctx context.Context, id string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := p
	return &out, nil
}
