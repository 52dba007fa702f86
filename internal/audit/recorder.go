package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"babycash.store/internal/ids"
	"babycash.store/internal/obs"
)

const (
	defaultQueueSize   = 256
	failureRetention   = time.Hour
	maxFailuresPerKey  = 128
	persistTimeout     = 5 * time.Second
	failureLogInterval = 10 * time.Second
)

// Recorder captures audit events synchronously at the call site and persists
// them asynchronously through a bounded queue and a single consumer goroutine.
// The caller's operation never fails or blocks on audit persistence; persistence
// failures are logged locally (throttled) and swallowed.
//
// Queue-full policy: drop-oldest-and-log. When the queue is full the oldest
// queued event is discarded so the freshest security signal survives.
type Recorder struct {
	store Store
	now   func() time.Time

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	// Failed-login index, maintained synchronously in Record so that
	// brute-force escalation never races the async persistence path.
	failMu   sync.Mutex
	failures map[string][]time.Time

	securitySink func(Event)

	errLog *rate.Limiter
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan Event, n)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithSecurityEventSink installs a callback invoked synchronously for every
// SECURITY_EVENT captured. The sink must not block; the live event stream
// uses it to push to subscribers.
func WithSecurityEventSink(sink func(Event)) RecorderOption {
	return func(r *Recorder) {
		r.securitySink = sink
	}
}

// NewRecorder constructs a Recorder and starts its consumer goroutine.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:    store,
		now:      time.Now,
		ch:       make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
		failures: make(map[string][]time.Time),
		errLog:   rate.NewLimiter(rate.Every(failureLogInterval), 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.ch:
			r.persist(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.ch:
					r.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Append(ctx, &ev); err != nil {
		if r.errLog.Allow() {
			obs.LogEntry(map[string]any{
				"ts":    r.now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "audit_persist_failed",
				"error": err.Error(),
			})
		}
	}
}

// Record captures the event data immediately and enqueues it for persistence.
// Missing ID and timestamp are stamped before the call returns, so the
// triggering data is never lost or stale.
func (r *Recorder) Record(ev Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	if ev.Action == ActionLoginFailed && ev.IP != "" {
		r.noteFailure(ev.IP, ev.OccurredAt)
	}
	if ev.Action == ActionSecurityEvent && r.securitySink != nil {
		r.securitySink(ev)
	}

	select {
	case r.ch <- ev:
		return
	default:
	}

	// Queue full: discard the oldest queued event, then retry once. If another
	// producer wins the retry the new event is dropped instead.
	select {
	case <-r.ch:
		r.dropOne()
	default:
	}
	select {
	case r.ch <- ev:
	default:
		r.dropOne()
	}
}

func (r *Recorder) dropOne() {
	r.dropped.Add(1)
	obs.IncAuditDropped()
	if r.errLog.Allow() {
		obs.LogEntry(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "audit_event_dropped",
			"total": r.dropped.Load(),
		})
	}
}

func (r *Recorder) noteFailure(key string, at time.Time) {
	cutoff := at.Add(-failureRetention)
	r.failMu.Lock()
	defer r.failMu.Unlock()
	kept := r.failures[key][:0:0]
	for _, ts := range r.failures[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	if len(kept) > maxFailuresPerKey {
		kept = kept[len(kept)-maxFailuresPerKey:]
	}
	r.failures[key] = kept
}

// CountRecentFailures returns how many failed logins were recorded for the
// client key within the window. Served from the synchronous in-memory index,
// never from the async persistence path.
func (r *Recorder) CountRecentFailures(key string, window time.Duration) int {
	if r == nil || key == "" {
		return 0
	}
	if window > failureRetention {
		window = failureRetention
	}
	cutoff := r.now().UTC().Add(-window)
	r.failMu.Lock()
	defer r.failMu.Unlock()
	n := 0
	for _, ts := range r.failures[key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Dropped reports how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close drains the queue and stops the consumer goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// QueryByIdentity lists recent events recorded for one identity.
func (r *Recorder) QueryByIdentity(ctx context.Context, identityID string, limit int) ([]Event, error) {
	return r.store.ListByIdentity(ctx, identityID, limit)
}

// QueryByAction lists recent events of one action kind.
func (r *Recorder) QueryByAction(ctx context.Context, action Action, limit int) ([]Event, error) {
	return r.store.ListByAction(ctx, action, limit)
}

// QueryByEntity lists the audit trail of one entity.
func (r *Recorder) QueryByEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return r.store.ListByEntity(ctx, entityType, entityID)
}

// RecentSecurityEvents lists SECURITY_EVENT records within the window.
func (r *Recorder) RecentSecurityEvents(ctx context.Context, window time.Duration) ([]Event, error) {
	return r.store.SecurityEventsSince(ctx, r.now().UTC().Add(-window))
}

// PurgeOlderThan deletes persisted events older than cutoff (retention sweep).
func (r *Recorder) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.store.DeleteOlderThan(ctx, cutoff)
}
