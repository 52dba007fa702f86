package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"babycash.store/internal/audit"
	"babycash.store/internal/auth"
	"babycash.store/internal/obs"
	"babycash.store/internal/ratelimit"
	"babycash.store/internal/stream"
)

// ReadyProbe is a readiness check (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer of the session security core.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	rec        *audit.Recorder
	limiter    *ratelimit.Limiter
	events     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

func New(svc *auth.Service, rec *audit.Recorder, limiter *ratelimit.Limiter, events *stream.Stream, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		rec:        rec,
		limiter:    limiter,
		events:     events,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)

	// admin audit queries
	a.mux.Handle("/v1/admin/audit/events",
		RequireRole(http.HandlerFunc(a.handleAuditEvents), auth.RoleAdmin))
	a.mux.Handle("/v1/admin/audit/security-events",
		RequireRole(http.HandlerFunc(a.handleSecurityEvents), auth.RoleAdmin))
	if a.events != nil {
		a.mux.Handle("/v1/admin/audit/security-events/stream",
			RequireRole(http.HandlerFunc(a.handleSecurityEventStream), auth.RoleAdmin))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.limiter != nil {
		h = RateLimit(h, a.limiter, a.rec)
	}
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "babycash-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "babycash-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
