package session

import (
	"context"
	"time"
)

// CredentialStore describes persistence for refresh credentials. It is the
// abstraction seam for multi-instance deployments: a shared external store
// can back the same interface.
type CredentialStore interface {
	Insert(ctx context.Context, cred *Credential) error
	FindByValue(ctx context.Context, value string) (*Credential, error)

	CountActive(ctx context.Context, identityID string, now time.Time) (int64, error)
	OldestActive(ctx context.Context, identityID string, now time.Time) (*Credential, error)

	// Revoke marks the credential revoked and reports whether this call made
	// the transition. Exactly one concurrent caller observes claimed=true;
	// rotate builds its atomicity guarantee on that.
	Revoke(ctx context.Context, id string, at time.Time) (claimed bool, err error)

	RevokeAllActive(ctx context.Context, identityID string, at time.Time) (int64, error)

	// DeleteDefunct removes credentials that are expired-or-revoked and were
	// issued before cutoff.
	DeleteDefunct(ctx context.Context, cutoff, now time.Time) (int64, error)
}
