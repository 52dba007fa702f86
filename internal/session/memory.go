package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CredentialStore. A single mutex guards the
// whole table so the conditional revoke in Revoke is an atomic
// check-and-transition.
type MemoryStore struct {
	mu      sync.Mutex
	byValue map[string]*Credential
}

var _ CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byValue: make(map[string]*Credential)}
}

func (s *MemoryStore) Insert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.byValue[cred.Value] = &cp
	return nil
}

func (s *MemoryStore) FindByValue(ctx context.Context, value string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) CountActive(ctx context.Context, identityID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, cred := range s.byValue {
		if cred.IdentityID == identityID && cred.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) OldestActive(ctx context.Context, identityID string, now time.Time) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *Credential
	for _, cred := range s.byValue {
		if cred.IdentityID != identityID || !cred.ActiveAt(now) {
			continue
		}
		if oldest == nil || cred.IssuedAt.Before(oldest.IssuedAt) {
			oldest = cred
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range s.byValue {
		if cred.ID != id {
			continue
		}
		if cred.Revoked {
			return false, nil
		}
		cred.Revoked = true
		ts := at
		cred.RevokedAt = &ts
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) RevokeAllActive(ctx context.Context, identityID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, cred := range s.byValue {
		if cred.IdentityID == identityID && !cred.Revoked {
			cred.Revoked = true
			ts := at
			cred.RevokedAt = &ts
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteDefunct(ctx context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for value, cred := range s.byValue {
		defunct := cred.Revoked || !now.Before(cred.ExpiresAt)
		if defunct && cred.IssuedAt.Before(cutoff) {
			delete(s.byValue, value)
			n++
		}
	}
	return n, nil
}
