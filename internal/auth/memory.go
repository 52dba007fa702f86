package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"babycash.store/internal/ids"
)

// MemoryStore is an in-memory UserStore for tests and single-node dev runs.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User // keyed by ID
}

// NewMemoryStore creates an empty in-memory user directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.ToLower(existing.Email) == email {
			return ErrDuplicateIdentity
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetCode = code
	exp := expiresAt
	u.ResetCodeExpiresAt = &exp
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FindByResetCode(ctx context.Context, code string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code == "" {
		return nil, ErrNotFound
	}
	for _, u := range m.users {
		if u.ResetCode == code {
			cp := *u
			if u.ResetCodeExpiresAt != nil {
				exp := *u.ResetCodeExpiresAt
				cp.ResetCodeExpiresAt = &exp
			}
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ClearResetCode(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetCode = ""
	u.ResetCodeExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}
