package session

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("session: credential not found")
	ErrExpired           = errors.New("session: credential expired")
	ErrRevoked           = errors.New("session: credential revoked")
	ErrSecurityViolation = errors.New("session: credential reuse detected")
)

// Credential is a long-lived, server-tracked refresh credential. Once Revoked
// is set it never transitions back; rows are physically deleted only by the
// cleanup sweep.
type Credential struct {
	ID         string
	Value      string
	IdentityID string
	Identity   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	IP         string
	UserAgent  string
}

// ActiveAt reports whether the credential is neither revoked nor expired.
func (c *Credential) ActiveAt(now time.Time) bool {
	return !c.Revoked && now.Before(c.ExpiresAt)
}

// Client carries the request attribution stored on issued credentials and
// audit events.
type Client struct {
	IP        string
	UserAgent string
}
