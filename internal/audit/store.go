package audit

import (
	"context"
	"time"
)

// Store describes persistence for audit events. Append is only ever called
// by the recorder's consumer goroutine; the read paths are synchronous.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]Event, error)
	ListByAction(ctx context.Context, action Action, limit int) ([]Event, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
	SecurityEventsSince(ctx context.Context, since time.Time) ([]Event, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
