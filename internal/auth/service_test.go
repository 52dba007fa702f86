package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"babycash.store/internal/audit"
	"babycash.store/internal/session"
)

type serviceFixture struct {
	svc    *Service
	users  *MemoryStore
	events *audit.MemoryStore
	rec    *audit.Recorder
	sender *captureSender
	now    time.Time
}

type captureSender struct {
	email string
	code  string
}

func (s *captureSender) SendResetCode(ctx context.Context, email, firstName, code string) error {
	s.email = email
	s.code = code
	return nil
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:  NewMemoryStore(),
		events: audit.NewMemoryStore(),
		sender: &captureSender{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.rec = audit.NewRecorder(f.events, audit.WithClock(clock))
	t.Cleanup(f.rec.Close)

	sessions := session.New(session.NewMemoryStore(), f.rec, session.WithClock(clock))
	signer, err := NewSigner([]byte("test-secret"), WithSignerClock(clock))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	f.svc = NewService(f.users, sessions, signer, f.rec,
		WithClock(clock), WithCodeSender(f.sender))
	return f
}

func (f *serviceFixture) register(t *testing.T, email, password string) Summary {
	t.Helper()
	_, user, err := f.svc.Register(context.Background(), RegisterParams{
		Email:     email,
		Password:  password,
		FirstName: "Dana",
	}, session.Client{IP: "203.0.113.1"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

var client = session.Client{IP: "203.0.113.1", UserAgent: "service-test"}

func TestRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	pair, user, err := f.svc.Login(ctx, "Dana@Shop.Test", "correct horse", client)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Email != "dana@shop.test" {
		t.Fatalf("email = %q, want normalized", user.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login must issue both tokens")
	}

	claims, err := f.svc.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.Role != string(RoleUser) {
		t.Fatalf("role = %q, want USER", claims.Role)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@shop.test", "correct horse")

	_, _, err := f.svc.Register(context.Background(), RegisterParams{
		Email:    "DANA@shop.test",
		Password: "another pass",
	}, client)
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("duplicate register: got %v, want ErrDuplicateIdentity", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	// Unknown email and wrong password must yield the identical error.
	_, _, errUnknown := f.svc.Login(ctx, "nobody@shop.test", "whatever", client)
	_, _, errWrong := f.svc.Login(ctx, "dana@shop.test", "wrong", client)
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("got (%v, %v), want ErrInvalidCredentials for both", errUnknown, errWrong)
	}
}

func TestFiveFailuresRaiseOneSecurityEvent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	for i := 0; i < 5; i++ {
		_, _, err := f.svc.Login(ctx, "dana@shop.test", "wrong", client)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}

	f.rec.Close()
	security, err := f.events.ListByAction(ctx, audit.ActionSecurityEvent, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(security) != 1 {
		t.Fatalf("security events = %d, want exactly 1", len(security))
	}
	failures, err := f.events.ListByAction(ctx, audit.ActionLoginFailed, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failures) != 5 {
		t.Fatalf("failure events = %d, want 5", len(failures))
	}
}

func TestFailuresFromDifferentClientsDoNotEscalate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	for i := 0; i < 4; i++ {
		f.svc.Login(ctx, "dana@shop.test", "wrong", session.Client{IP: "198.51.100.1"})
	}
	for i := 0; i < 4; i++ {
		f.svc.Login(ctx, "dana@shop.test", "wrong", session.Client{IP: "198.51.100.2"})
	}

	f.rec.Close()
	security, err := f.events.ListByAction(ctx, audit.ActionSecurityEvent, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(security) != 0 {
		t.Fatalf("security events = %d, want 0 (per-client threshold)", len(security))
	}
}

func TestRefreshRotatesAlways(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	pair, _, err := f.svc.Login(ctx, "dana@shop.test", "correct horse", client)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := f.svc.Refresh(ctx, pair.RefreshToken, client)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must rotate the credential")
	}

	// Replaying the first value is now a security violation.
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, client); !errors.Is(err, session.ErrSecurityViolation) {
		t.Fatalf("replay: got %v, want ErrSecurityViolation", err)
	}
	// And it burned the whole chain, including the fresh credential.
	if _, err := f.svc.Refresh(ctx, second.RefreshToken, client); !errors.Is(err, session.ErrSecurityViolation) {
		t.Fatalf("burned chain: got %v, want ErrSecurityViolation", err)
	}
}

func TestRefreshUnknownValue(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.svc.Refresh(context.Background(), "not-a-credential", client); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	pair, _, err := f.svc.Login(ctx, "dana@shop.test", "correct horse", client)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.RefreshToken, client); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.RefreshToken, client); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := f.svc.Logout(ctx, "unknown", client); err != nil {
		t.Fatalf("logout of unknown value: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	pair, _, err := f.svc.Login(ctx, "dana@shop.test", "correct horse", client)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.svc.ForgotPassword(ctx, "dana@shop.test"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if f.sender.email != "dana@shop.test" {
		t.Fatalf("code sent to %q", f.sender.email)
	}
	if len(f.sender.code) != 6 {
		t.Fatalf("code %q is not 6 digits", f.sender.code)
	}

	if err := f.svc.ResetPassword(ctx, f.sender.code, "brand new pass", client); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Old password dead, new one works, old sessions revoked.
	if _, _, err := f.svc.Login(ctx, "dana@shop.test", "correct horse", client); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "dana@shop.test", "brand new pass", client); err != nil {
		t.Fatalf("new password: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, client); err == nil {
		t.Fatal("pre-reset session must be revoked")
	}

	// The code is single-use.
	if err := f.svc.ResetPassword(ctx, f.sender.code, "yet another pass", client); !errors.Is(err, ErrInvalidResetCode) {
		t.Fatalf("code reuse: got %v, want ErrInvalidResetCode", err)
	}
}

func TestResetCodeExpires(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "dana@shop.test", "correct horse")

	if err := f.svc.ForgotPassword(ctx, "dana@shop.test"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	f.now = f.now.Add(16 * time.Minute)

	if err := f.svc.ResetPassword(ctx, f.sender.code, "brand new pass", client); !errors.Is(err, ErrInvalidResetCode) {
		t.Fatalf("expired code: got %v, want ErrInvalidResetCode", err)
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.ForgotPassword(context.Background(), "nobody@shop.test"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if f.sender.code != "" {
		t.Fatal("no code should be sent for unknown email")
	}
}
