package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"babycash.store/internal/audit"
	"babycash.store/internal/ids"
	"babycash.store/internal/obs"
)

const (
	defaultMaxActive = 5
	defaultTTL       = 7 * 24 * time.Hour

	createLockStripes = 64
)

// Store owns the refresh-credential lifecycle: creation, rotation with reuse
// detection, revocation, eviction and cleanup. Credential states are
// ACTIVE → REVOKED (explicit, terminal) and ACTIVE → EXPIRED (time-based,
// checked lazily).
type Store struct {
	creds     CredentialStore
	rec       *audit.Recorder
	now       func() time.Time
	maxActive int64
	ttl       time.Duration

	// Striped per-identity locks serializing the count-evict-insert
	// sequence in Create.
	createLocks [createLockStripes]sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithMaxActive overrides how many credentials an identity may hold
// simultaneously active.
func WithMaxActive(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithTTL overrides the credential lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New constructs a Store.
func New(creds CredentialStore, rec *audit.Recorder, opts ...Option) *Store {
	s := &Store{
		creds:     creds,
		rec:       rec,
		now:       time.Now,
		maxActive: defaultMaxActive,
		ttl:       defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new active credential for the identity. When the identity
// already holds maxActive credentials, the oldest active ones are revoked
// until the cap has room. The whole count-evict-insert sequence runs under a
// per-identity lock, so concurrent creates for one identity cannot overshoot
// the cap.
func (s *Store) Create(ctx context.Context, identityID, identity string, client Client) (*Credential, error) {
	mu := s.createLock(identityID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now().UTC()

	for {
		count, err := s.creds.CountActive(ctx, identityID, now)
		if err != nil {
			return nil, fmt.Errorf("count active credentials: %w", err)
		}
		if count < s.maxActive {
			break
		}
		oldest, err := s.creds.OldestActive(ctx, identityID, now)
		if err != nil {
			return nil, fmt.Errorf("find oldest credential: %w", err)
		}
		if oldest == nil {
			break
		}
		claimed, err := s.creds.Revoke(ctx, oldest.ID, now)
		if err != nil {
			return nil, fmt.Errorf("evict oldest credential: %w", err)
		}
		// Not claimed means a concurrent rotate or logout got there first;
		// the count dropped either way, so re-check instead of trusting a
		// single eviction.
		if claimed {
			obs.LogEntry(map[string]any{
				"ts":       now.Format(time.RFC3339Nano),
				"level":    "info",
				"msg":      "session_evicted_oldest",
				"identity": identity,
			})
		}
	}

	cred := &Credential{
		ID:         ids.New(),
		Value:      uuid.NewString(),
		IdentityID: identityID,
		Identity:   identity,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
		IP:         client.IP,
		UserAgent:  client.UserAgent,
	}
	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}
	return cred, nil
}

// Verify looks the credential up by value and checks it is still active.
func (s *Store) Verify(ctx context.Context, value string) (*Credential, error) {
	cred, err := s.creds.FindByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if cred.Revoked {
		return nil, ErrRevoked
	}
	if !now.Before(cred.ExpiresAt) {
		return nil, ErrExpired
	}
	return cred, nil
}

// Rotate invalidates the presented credential and issues a replacement.
//
// Presenting an already-revoked value is treated as presumption of theft:
// every credential of the identity is revoked, a high-severity SECURITY_EVENT
// is recorded and ErrSecurityViolation is returned. A concurrent rotate of the
// same value loses the conditional revoke and lands on the same path, so two
// racing callers can never both succeed.
func (s *Store) Rotate(ctx context.Context, value string, client Client) (*Credential, error) {
	cred, err := s.creds.FindByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if cred.Revoked {
		return nil, s.handleReuse(ctx, cred, client, now)
	}
	if !now.Before(cred.ExpiresAt) {
		return nil, ErrExpired
	}

	claimed, err := s.creds.Revoke(ctx, cred.ID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke credential: %w", err)
	}
	if !claimed {
		return nil, s.handleReuse(ctx, cred, client, now)
	}

	return s.Create(ctx, cred.IdentityID, cred.Identity, client)
}

func (s *Store) handleReuse(ctx context.Context, cred *Credential, client Client, now time.Time) error {
	revoked, err := s.creds.RevokeAllActive(ctx, cred.IdentityID, now)
	if err != nil {
		return fmt.Errorf("revoke all after reuse: %w", err)
	}
	obs.IncReuseDetected()
	s.rec.Record(audit.Event{
		Action:      audit.ActionSecurityEvent,
		IdentityID:  cred.IdentityID,
		Identity:    cred.Identity,
		EntityType:  "RefreshCredential",
		EntityID:    cred.ID,
		Description: fmt.Sprintf("refresh credential reuse detected; %d active sessions revoked", revoked),
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeWarning,
	})
	return ErrSecurityViolation
}

// Revoke marks the credential revoked. It is idempotent: unknown or
// already-revoked values are a harmless no-op, never an error. This is the
// logout path and must stay distinct from the rotate reuse branch.
func (s *Store) Revoke(ctx context.Context, value string, client Client) error {
	cred, err := s.creds.FindByValue(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	now := s.now().UTC()
	claimed, err := s.creds.Revoke(ctx, cred.ID, now)
	if err != nil {
		return err
	}
	if claimed {
		s.rec.Record(audit.Event{
			Action:      audit.ActionLogout,
			IdentityID:  cred.IdentityID,
			Identity:    cred.Identity,
			EntityType:  "RefreshCredential",
			EntityID:    cred.ID,
			Description: "refresh credential revoked on logout",
			IP:          client.IP,
			UserAgent:   client.UserAgent,
			Outcome:     audit.OutcomeSuccess,
		})
	}
	return nil
}

// RevokeAll marks every active credential of the identity revoked and returns
// how many transitions were made.
func (s *Store) RevokeAll(ctx context.Context, identityID string) (int64, error) {
	return s.creds.RevokeAllActive(ctx, identityID, s.now().UTC())
}

// Cleanup deletes credentials that are expired-or-revoked and older than
// cutoff. Returns the deleted count.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.creds.DeleteDefunct(ctx, cutoff, s.now().UTC())
}

func (s *Store) createLock(identityID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identityID))
	return &s.createLocks[h.Sum32()%createLockStripes]
}
