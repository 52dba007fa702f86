package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"babycash.store/internal/audit"
	"babycash.store/internal/auth"
	"babycash.store/internal/ratelimit"
	"babycash.store/internal/session"
	"babycash.store/internal/stream"
)

type apiFixture struct {
	handler http.Handler
	users   *auth.MemoryStore
	rec     *audit.Recorder
	events  *audit.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		users:  auth.NewMemoryStore(),
		events: audit.NewMemoryStore(),
	}
	f.rec = audit.NewRecorder(f.events)
	t.Cleanup(f.rec.Close)

	sessions := session.New(session.NewMemoryStore(), f.rec)
	signer, err := auth.NewSigner([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc := auth.NewService(f.users, sessions, signer, f.rec)

	// Generous budgets so handler tests never trip the limiter.
	limiter := ratelimit.New(
		ratelimit.WithLimit(ratelimit.ClassAuth, 1000, time.Minute),
		ratelimit.WithLimit(ratelimit.ClassAdmin, 1000, time.Minute),
		ratelimit.WithLimit(ratelimit.ClassGeneral, 1000, time.Minute),
	)

	api := New(svc, f.rec, limiter, stream.New(), ReadyProbe{}, "test")
	f.handler = api.Handler()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.50:4242"
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return body
}

func (f *apiFixture) register(t *testing.T, email string) map[string]any {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":      email,
		"password":   "correct horse",
		"first_name": "Dana",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "dana@shop.test")

	login := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "dana@shop.test",
		"password": "correct horse",
	}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", login.Code, login.Body.String())
	}
	body := decodeBody(t, login)
	refreshToken, _ := body["refresh_token"].(string)
	if body["access_token"] == "" || refreshToken == "" {
		t.Fatal("login response must carry both tokens")
	}
	user, _ := body["user"].(map[string]any)
	if user == nil || user["email"] != "dana@shop.test" {
		t.Fatalf("unexpected user payload: %v", body["user"])
	}

	refresh := f.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": refreshToken,
	}, nil)
	if refresh.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", refresh.Code, refresh.Body.String())
	}
	rotated, _ := decodeBody(t, refresh)["refresh_token"].(string)
	if rotated == "" || rotated == refreshToken {
		t.Fatal("refresh must rotate the credential")
	}

	// The rotated-away value is now poison.
	replay := f.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": refreshToken,
	}, nil)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", replay.Code)
	}

	logout := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]any{
		"refresh_token": rotated,
	}, nil)
	if logout.Code != http.StatusOK {
		t.Fatalf("logout status = %d", logout.Code)
	}
	// Logout again: still 200.
	again := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]any{
		"refresh_token": rotated,
	}, nil)
	if again.Code != http.StatusOK {
		t.Fatalf("repeat logout status = %d, want 200", again.Code)
	}
}

func TestRegisterDuplicateGets409(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "dana@shop.test")

	rr := f.do(t, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "dana@shop.test",
		"password": "another pass",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "dana@shop.test")

	wrongPass := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "dana@shop.test",
		"password": "wrong",
	}, nil)
	unknownUser := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "nobody@shop.test",
		"password": "wrong",
	}, nil)

	if wrongPass.Code != http.StatusUnauthorized || unknownUser.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d/%d, want 401/401", wrongPass.Code, unknownUser.Code)
	}
	if decodeBody(t, wrongPass)["error"] != decodeBody(t, unknownUser)["error"] {
		t.Fatal("failure messages must not distinguish unknown email from wrong password")
	}
}

func TestForgotPasswordNeverEnumerates(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "dana@shop.test")

	known := f.do(t, http.MethodPost, "/v1/auth/forgot-password", map[string]any{
		"email": "dana@shop.test",
	}, nil)
	unknown := f.do(t, http.MethodPost, "/v1/auth/forgot-password", map[string]any{
		"email": "nobody@shop.test",
	}, nil)
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("statuses = %d/%d, want 200/200", known.Code, unknown.Code)
	}
}

func TestResetPasswordRejectsBadCode(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/auth/reset-password", map[string]any{
		"code":         "000000",
		"new_password": "brand new pass",
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/auth/login", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", rr.Header().Get("Allow"))
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "dana@shop.test",
		"password": "x",
		"surprise": true,
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAdminAuditEndpointsRequireAdmin(t *testing.T) {
	f := newAPIFixture(t)

	// No token at all.
	anon := f.do(t, http.MethodGet, "/v1/admin/audit/security-events", nil, nil)
	if anon.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", anon.Code)
	}

	// Plain user token.
	body := f.register(t, "user@shop.test")
	userToken, _ := body["access_token"].(string)
	asUser := f.do(t, http.MethodGet, "/v1/admin/audit/security-events", nil, http.Header{
		"Authorization": []string{"Bearer " + userToken},
	})
	if asUser.Code != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", asUser.Code)
	}

	// Seed an admin account directly, then log in for a token carrying the
	// ADMIN role.
	hash, _ := auth.HashPassword("correct horse")
	adminUser := &auth.User{
		Email:        "admin@shop.test",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		Enabled:      true,
	}
	if err := f.users.Create(context.Background(), adminUser); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	login := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "admin@shop.test",
		"password": "correct horse",
	}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("admin login = %d", login.Code)
	}
	adminToken, _ := decodeBody(t, login)["access_token"].(string)

	asAdmin := f.do(t, http.MethodGet, "/v1/admin/audit/security-events", nil, http.Header{
		"Authorization": []string{"Bearer " + adminToken},
	})
	if asAdmin.Code != http.StatusOK {
		t.Fatalf("admin status = %d, body %s", asAdmin.Code, asAdmin.Body.String())
	}

	events := f.do(t, http.MethodGet,
		fmt.Sprintf("/v1/admin/audit/events?identity_id=%s", adminUser.ID), nil, http.Header{
			"Authorization": []string{"Bearer " + adminToken},
		})
	if events.Code != http.StatusOK {
		t.Fatalf("events status = %d", events.Code)
	}

	// Filterless query is a 400.
	bad := f.do(t, http.MethodGet, "/v1/admin/audit/events", nil, http.Header{
		"Authorization": []string{"Bearer " + adminToken},
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("filterless status = %d, want 400", bad.Code)
	}
}

func TestAuditEventWireFormat(t *testing.T) {
	f := newAPIFixture(t)

	hash, _ := auth.HashPassword("correct horse")
	adminUser := &auth.User{
		Email:        "admin@shop.test",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		Enabled:      true,
	}
	if err := f.users.Create(context.Background(), adminUser); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	login := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "admin@shop.test",
		"password": "correct horse",
	}, nil)
	adminToken, _ := decodeBody(t, login)["access_token"].(string)

	// Seed the store directly so the listing is deterministic regardless of
	// the recorder's queue.
	seeded := &audit.Event{
		ID:         "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:     audit.ActionLogin,
		IdentityID: "user-wire",
		Identity:   "user@shop.test",
		IP:         "203.0.113.9",
		Outcome:    audit.OutcomeSuccess,
	}
	if err := f.events.Append(context.Background(), seeded); err != nil {
		t.Fatalf("append event: %v", err)
	}

	rr := f.do(t, http.MethodGet, "/v1/admin/audit/events?identity_id=user-wire", nil, http.Header{
		"Authorization": []string{"Bearer " + adminToken},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	list, _ := body["events"].([]any)
	if len(list) != 1 {
		t.Fatalf("events = %d, want 1", len(list))
	}
	ev, _ := list[0].(map[string]any)
	for _, key := range []string{"id", "occurred_at", "action", "identity_id", "ip", "outcome"} {
		if _, ok := ev[key]; !ok {
			t.Fatalf("expected snake_case key %q in event, got %v", key, ev)
		}
	}
	if _, ok := ev["OccurredAt"]; ok {
		t.Fatal("event must not expose Go-cased field names")
	}
	if ev["identity_id"] != "user-wire" {
		t.Fatalf("identity_id = %v", ev["identity_id"])
	}
}

func TestHealthAndInfo(t *testing.T) {
	f := newAPIFixture(t)
	if rr := f.do(t, http.MethodGet, "/healthz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/readyz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/v1/info", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("info = %d", rr.Code)
	}
}
