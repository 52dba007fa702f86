package ratelimit

import (
	"sync"
	"time"

	"babycash.store/internal/obs"
)

// Class groups routes sharing one rate-limit policy.
type Class string

const (
	ClassAuth    Class = "auth"
	ClassAdmin   Class = "admin"
	ClassGeneral Class = "general"
)

// Limit is the admission budget for one endpoint class.
type Limit struct {
	Capacity int64
	Window   time.Duration
}

// Defaults per class. AUTH is strict as brute-force defense.
var defaultLimits = map[Class]Limit{
	ClassAuth:    {Capacity: 10, Window: time.Minute},
	ClassAdmin:   {Capacity: 50, Window: time.Minute},
	ClassGeneral: {Capacity: 100, Window: time.Minute},
}

const defaultMaxTracked = 10000

// Result reports the outcome of one admission check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type bucket struct {
	remaining   int64
	windowStart time.Time
}

// classBuckets holds the per-key buckets of one class behind its own mutex,
// so the hot path never contends across classes.
type classBuckets struct {
	mu      sync.Mutex
	limit   Limit
	buckets map[string]*bucket
}

// Limiter is a per-client, per-endpoint-class admission controller using
// fixed-window token buckets: a bucket is replenished to full capacity once
// its window has elapsed, never drip-fed. This deliberately allows a burst up
// to capacity at each window start and is simpler to get right than a
// leaky bucket.
type Limiter struct {
	now        func() time.Time
	maxTracked int
	classes    map[Class]*classBuckets
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLimit overrides the budget of one class.
func WithLimit(class Class, capacity int64, window time.Duration) Option {
	return func(l *Limiter) {
		if cb, ok := l.classes[class]; ok && capacity > 0 && window > 0 {
			cb.limit = Limit{Capacity: capacity, Window: window}
		}
	}
}

// WithMaxTracked overrides the per-class entry bound that triggers the
// wholesale clear.
func WithMaxTracked(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxTracked = n
		}
	}
}

// New constructs a Limiter with the default class budgets.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:        time.Now,
		maxTracked: defaultMaxTracked,
		classes:    make(map[Class]*classBuckets, len(defaultLimits)),
	}
	for class, limit := range defaultLimits {
		l.classes[class] = &classBuckets{
			limit:   limit,
			buckets: make(map[string]*bucket),
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryConsume atomically takes cost tokens from the (class, key) bucket.
// A check-then-decrement race can never admit more than capacity requests
// per window: the whole check-and-take runs under the class lock.
func (l *Limiter) TryConsume(class Class, key string, cost int64) Result {
	if cost <= 0 {
		cost = 1
	}
	cb, ok := l.classes[class]
	if !ok {
		cb = l.classes[ClassGeneral]
	}
	now := l.now()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.buckets[key]
	if !ok {
		// Bounded memory policy: once the class table exceeds the bound,
		// clear it wholesale. Deliberately blunt, not an LRU.
		if len(cb.buckets) >= l.maxTracked {
			cb.buckets = make(map[string]*bucket)
			obs.LogEntry(map[string]any{
				"ts":    now.UTC().Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "rate_buckets_cleared",
				"class": string(class),
			})
		}
		b = &bucket{remaining: cb.limit.Capacity, windowStart: now}
		cb.buckets[key] = b
	}

	// Fixed-window refill: reset to full capacity once the window elapsed.
	if now.Sub(b.windowStart) >= cb.limit.Window {
		b.remaining = cb.limit.Capacity
		b.windowStart = now
	}

	if b.remaining < cost {
		obs.IncRateLimited(string(class))
		return Result{
			Allowed:    false,
			Remaining:  b.remaining,
			RetryAfter: b.windowStart.Add(cb.limit.Window).Sub(now),
		}
	}

	b.remaining -= cost
	return Result{Allowed: true, Remaining: b.remaining}
}

// LimitFor reports the configured budget of a class.
func (l *Limiter) LimitFor(class Class) Limit {
	if cb, ok := l.classes[class]; ok {
		return cb.limit
	}
	return l.classes[ClassGeneral].limit
}

// Tracked reports how many keys the class currently tracks.
func (l *Limiter) Tracked(class Class) int {
	cb, ok := l.classes[class]
	if !ok {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.buckets)
}
