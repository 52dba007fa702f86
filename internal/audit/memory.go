package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps events in memory. Used by tests and single-process
// deployments; production uses the Postgres store behind the same interface.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) ListByIdentity(ctx context.Context, identityID string, limit int) ([]Event, error) {
	return s.filter(limit, func(ev Event) bool { return ev.IdentityID == identityID }), nil
}

func (s *MemoryStore) ListByAction(ctx context.Context, action Action, limit int) ([]Event, error) {
	return s.filter(limit, func(ev Event) bool { return ev.Action == action }), nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return s.filter(0, func(ev Event) bool {
		return ev.EntityType == entityType && ev.EntityID == entityID
	}), nil
}

func (s *MemoryStore) SecurityEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	return s.filter(0, func(ev Event) bool {
		return ev.Action == ActionSecurityEvent && ev.OccurredAt.After(since)
	}), nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) filter(limit int, keep func(Event) bool) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
