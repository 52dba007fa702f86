package audit

import (
	"context"
	"database/sql"
	"time"
)

const defaultListLimit = 100

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const eventColumns = `id, occurred_at, action, identity_id, identity_email, entity_type, entity_id, description, ip, user_agent, outcome, error_detail`

func (s *PGStore) Append(ctx context.Context, ev *Event) error {
	_, err := s.db.ExecContext(ctx,
		`insert into audit_events(`+eventColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ev.ID, ev.OccurredAt, string(ev.Action), ev.IdentityID, ev.Identity,
		ev.EntityType, ev.EntityID, ev.Description, ev.IP, ev.UserAgent,
		string(ev.Outcome), ev.ErrorDetail,
	)
	return err
}

func (s *PGStore) ListByIdentity(ctx context.Context, identityID string, limit int) ([]Event, error) {
	return s.list(ctx,
		`select `+eventColumns+` from audit_events where identity_id=$1 order by occurred_at desc limit $2`,
		identityID, clampLimit(limit))
}

func (s *PGStore) ListByAction(ctx context.Context, action Action, limit int) ([]Event, error) {
	return s.list(ctx,
		`select `+eventColumns+` from audit_events where action=$1 order by occurred_at desc limit $2`,
		string(action), clampLimit(limit))
}

func (s *PGStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return s.list(ctx,
		`select `+eventColumns+` from audit_events where entity_type=$1 and entity_id=$2 order by occurred_at desc`,
		entityType, entityID)
}

func (s *PGStore) SecurityEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	return s.list(ctx,
		`select `+eventColumns+` from audit_events where action=$1 and occurred_at > $2 order by occurred_at desc`,
		string(ActionSecurityEvent), since)
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_events where occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev              Event
			action, outcome string
		)
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &action, &ev.IdentityID, &ev.Identity,
			&ev.EntityType, &ev.EntityID, &ev.Description, &ev.IP, &ev.UserAgent,
			&outcome, &ev.ErrorDetail); err != nil {
			return nil, err
		}
		ev.Action = Action(action)
		ev.Outcome = Outcome(outcome)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
