package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"babycash.store/internal/audit"
	"babycash.store/internal/obs"
	"babycash.store/internal/session"
)

const (
	defaultFailureWindow    = 15 * time.Minute
	defaultFailureThreshold = 5
	defaultResetCodeTTL     = 15 * time.Minute
)

// Service is the credential verifier: it validates user credentials, issues
// access grants and delegates refresh-credential lifecycle to the session
// store. Every outcome is recorded through the audit recorder.
type Service struct {
	users    UserStore
	sessions *session.Store
	signer   *Signer
	rec      *audit.Recorder
	sender   CodeSender
	now      func() time.Time

	failureWindow    time.Duration
	failureThreshold int
	resetCodeTTL     time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithFailureEscalation overrides the brute-force escalation policy: a
// SECURITY_EVENT is recorded once threshold failures from one client IP
// accumulate within window.
func WithFailureEscalation(threshold int, window time.Duration) ServiceOption {
	return func(s *Service) {
		if threshold > 0 {
			s.failureThreshold = threshold
		}
		if window > 0 {
			s.failureWindow = window
		}
	}
}

// WithCodeSender overrides password-reset code delivery.
func WithCodeSender(sender CodeSender) ServiceOption {
	return func(s *Service) {
		if sender != nil {
			s.sender = sender
		}
	}
}

// WithResetCodeTTL overrides how long a reset code stays valid.
func WithResetCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetCodeTTL = ttl
		}
	}
}

// NewService constructs the verifier.
func NewService(users UserStore, sessions *session.Store, signer *Signer, rec *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		users:            users,
		sessions:         sessions,
		signer:           signer,
		rec:              rec,
		sender:           logSender{},
		now:              time.Now,
		failureWindow:    defaultFailureWindow,
		failureThreshold: defaultFailureThreshold,
		resetCodeTTL:     defaultResetCodeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates email/password and issues a token pair. Failures are
// indistinguishable to the caller (no account enumeration) and feed the
// brute-force escalation counter.
func (s *Service) Login(ctx context.Context, email, password string, client session.Client) (TokenPair, Summary, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.recordLoginFailure(email, client, "missing credentials")
		return TokenPair{}, Summary{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordLoginFailure(email, client, "unknown email")
			return TokenPair{}, Summary{}, ErrInvalidCredentials
		}
		return TokenPair{}, Summary{}, err
	}
	if !user.Enabled {
		s.recordLoginFailure(email, client, "account disabled")
		return TokenPair{}, Summary{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.recordLoginFailure(email, client, "wrong password")
		return TokenPair{}, Summary{}, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, user, client)
	if err != nil {
		return TokenPair{}, Summary{}, err
	}

	obs.IncLogin("success")
	s.rec.Record(audit.Event{
		Action:      audit.ActionLogin,
		IdentityID:  user.ID,
		Identity:    user.Email,
		Description: "user logged in",
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeSuccess,
	})
	return pair, user.summary(), nil
}

// RegisterParams is the input to Register.
type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Register creates a new user account and logs it in.
func (s *Service) Register(ctx context.Context, p RegisterParams, client session.Client) (TokenPair, Summary, error) {
	email := normalizeEmail(p.Email)
	if email == "" {
		return TokenPair{}, Summary{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(p.Password) < 8 {
		return TokenPair{}, Summary{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return TokenPair{}, Summary{}, err
	}
	user := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		Phone:        strings.TrimSpace(p.Phone),
		Role:         RoleUser,
		Enabled:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return TokenPair{}, Summary{}, err
	}

	pair, err := s.issueTokens(ctx, user, client)
	if err != nil {
		return TokenPair{}, Summary{}, err
	}

	s.rec.Record(audit.Event{
		Action:      audit.ActionRegister,
		IdentityID:  user.ID,
		Identity:    user.Email,
		Description: "user registered",
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeSuccess,
	})
	return pair, user.summary(), nil
}

// Refresh rotates the presented refresh credential and issues a fresh access
// grant. Policy: rotate always — every successful refresh invalidates the
// presented credential and returns a replacement. Reuse of a rotated-away
// value surfaces session.ErrSecurityViolation after the session store has
// revoked all of the identity's credentials.
func (s *Service) Refresh(ctx context.Context, refreshValue string, client session.Client) (TokenPair, error) {
	cred, err := s.sessions.Rotate(ctx, refreshValue, client)
	if err != nil {
		return TokenPair{}, err
	}

	user, err := s.users.FindByID(ctx, cred.IdentityID)
	if err != nil || !user.Enabled {
		// Identity vanished or was disabled since issuance: kill the session
		// chain and answer like any other bad credential.
		_, _ = s.sessions.RevokeAll(ctx, cred.IdentityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	access, expiresAt, err := s.signer.Sign(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	s.rec.Record(audit.Event{
		Action:      audit.ActionLogin,
		IdentityID:  user.ID,
		Identity:    user.Email,
		EntityType:  "RefreshCredential",
		EntityID:    cred.ID,
		Description: "access grant refreshed; credential rotated",
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeSuccess,
	})
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  expiresAt,
		RefreshToken:     cred.Value,
		RefreshExpiresAt: cred.ExpiresAt,
	}, nil
}

// Logout revokes the refresh credential. Always idempotent: an unknown or
// already-revoked value is absorbed as success.
func (s *Service) Logout(ctx context.Context, refreshValue string, client session.Client) error {
	return s.sessions.Revoke(ctx, refreshValue, client)
}

// ForgotPassword issues a reset code and hands it to the code sender. An
// unknown email is silently ignored so the endpoint cannot be used for
// account enumeration.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	code, err := newResetCode()
	if err != nil {
		return err
	}
	expiresAt := s.now().UTC().Add(s.resetCodeTTL)
	if err := s.users.SetResetCode(ctx, user.ID, code, expiresAt); err != nil {
		return err
	}
	return s.sender.SendResetCode(ctx, user.Email, user.FirstName, code)
}

// ResetPassword consumes a valid reset code, replaces the password and
// revokes every live session of the identity.
func (s *Service) ResetPassword(ctx context.Context, code, newPassword string, client session.Client) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidResetCode
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	user, err := s.users.FindByResetCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetCode
		}
		return err
	}
	now := s.now().UTC()
	if user.ResetCodeExpiresAt == nil || now.After(*user.ResetCodeExpiresAt) {
		return ErrInvalidResetCode
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.users.ClearResetCode(ctx, user.ID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		return err
	}

	s.rec.Record(audit.Event{
		Action:      audit.ActionPasswordChanged,
		IdentityID:  user.ID,
		Identity:    user.Email,
		Description: "password reset via code; all sessions revoked",
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeSuccess,
	})
	return nil
}

// Authenticate verifies an access grant and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.signer.Verify(token)
}

func (s *Service) issueTokens(ctx context.Context, user *User, client session.Client) (TokenPair, error) {
	cred, err := s.sessions.Create(ctx, user.ID, user.Email, client)
	if err != nil {
		return TokenPair{}, err
	}
	access, expiresAt, err := s.signer.Sign(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  expiresAt,
		RefreshToken:     cred.Value,
		RefreshExpiresAt: cred.ExpiresAt,
	}, nil
}

func (s *Service) recordLoginFailure(email string, client session.Client, reason string) {
	obs.IncLogin("failure")
	s.rec.Record(audit.Event{
		Action:      audit.ActionLoginFailed,
		Identity:    email,
		Description: "login failed",
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Outcome:     audit.OutcomeFailure,
		ErrorDetail: reason,
	})

	// Fire exactly once per streak, on the failure that crosses the threshold.
	count := s.rec.CountRecentFailures(client.IP, s.failureWindow)
	if count == s.failureThreshold {
		s.rec.Record(audit.Event{
			Action:      audit.ActionSecurityEvent,
			Description: fmt.Sprintf("%d failed logins from one client within %s", count, s.failureWindow),
			IP:          client.IP,
			UserAgent:   client.UserAgent,
			Outcome:     audit.OutcomeWarning,
		})
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// logSender is the default CodeSender: it only writes a local log line.
type logSender struct{}

func (logSender) SendResetCode(ctx context.Context, email, firstName, code string) error {
	obs.LogEntry(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"msg":   "password_reset_code_issued",
		"email": email,
	})
	return nil
}
