// Package maintenance runs the periodic retention sweeps: defunct refresh
// credentials are deleted after 30 days, audit events after 90 days.
package maintenance

import (
	"context"
	"time"

	"babycash.store/internal/audit"
	"babycash.store/internal/obs"
	"babycash.store/internal/session"
)

const (
	defaultInterval         = time.Hour
	defaultSessionRetention = 30 * 24 * time.Hour
	defaultAuditRetention   = 90 * 24 * time.Hour
	sweepTimeout            = 30 * time.Second
)

// Sweeper periodically purges defunct credentials and stale audit events.
type Sweeper struct {
	sessions *session.Store
	rec      *audit.Recorder
	now      func() time.Time

	interval         time.Duration
	sessionRetention time.Duration
	auditRetention   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides how often sweeps run.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetention overrides the session and audit retention windows.
func WithRetention(sessions, auditEvents time.Duration) Option {
	return func(s *Sweeper) {
		if sessions > 0 {
			s.sessionRetention = sessions
		}
		if auditEvents > 0 {
			s.auditRetention = auditEvents
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New constructs a Sweeper. Call Start to begin sweeping.
func New(sessions *session.Store, rec *audit.Recorder, opts ...Option) *Sweeper {
	s := &Sweeper{
		sessions:         sessions,
		rec:              rec,
		now:              time.Now,
		interval:         defaultInterval,
		sessionRetention: defaultSessionRetention,
		auditRetention:   defaultAuditRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. Stop cancels it.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce runs one sweep of both retention policies.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	now := s.now().UTC()

	deleted, err := s.sessions.Cleanup(ctx, now.Add(-s.sessionRetention))
	s.logSweep("session_cleanup", deleted, err)

	purged, err := s.rec.PurgeOlderThan(ctx, now.Add(-s.auditRetention))
	s.logSweep("audit_purge", purged, err)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) logSweep(kind string, removed int64, err error) {
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "info",
		"msg":     "maintenance_sweep",
		"kind":    kind,
		"removed": removed,
	}
	if err != nil {
		entry["level"] = "error"
		entry["error"] = err.Error()
	}
	obs.LogEntry(entry)
}
