package session

import (
	"context"
	"database/sql"
	"time"
)

// PGStore implements CredentialStore using PostgreSQL. The conditional
// `where revoked = false` update makes Revoke an atomic row claim, so a
// concurrent rotate on the same credential has exactly one winner without
// any explicit locking.
type PGStore struct {
	db *sql.DB
}

var _ CredentialStore = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const credentialColumns = `id, value, identity_id, identity_email, issued_at, expires_at, revoked, revoked_at, ip, user_agent`

func (s *PGStore) Insert(ctx context.Context, cred *Credential) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_credentials(`+credentialColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		cred.ID, cred.Value, cred.IdentityID, cred.Identity, cred.IssuedAt, cred.ExpiresAt,
		cred.Revoked, cred.RevokedAt, cred.IP, cred.UserAgent,
	)
	return err
}

func (s *PGStore) FindByValue(ctx context.Context, value string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from refresh_credentials where value=$1`, value)
	var cred Credential
	if err := row.Scan(&cred.ID, &cred.Value, &cred.IdentityID, &cred.Identity, &cred.IssuedAt,
		&cred.ExpiresAt, &cred.Revoked, &cred.RevokedAt, &cred.IP, &cred.UserAgent); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cred, nil
}

func (s *PGStore) CountActive(ctx context.Context, identityID string, now time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`select count(*) from refresh_credentials where identity_id=$1 and revoked=false and expires_at > $2`,
		identityID, now)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PGStore) OldestActive(ctx context.Context, identityID string, now time.Time) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from refresh_credentials where identity_id=$1 and revoked=false and expires_at > $2 order by issued_at asc limit 1`,
		identityID, now)
	var cred Credential
	if err := row.Scan(&cred.ID, &cred.Value, &cred.IdentityID, &cred.Identity, &cred.IssuedAt,
		&cred.ExpiresAt, &cred.Revoked, &cred.RevokedAt, &cred.IP, &cred.UserAgent); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (s *PGStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_credentials set revoked=true, revoked_at=$2 where id=$1 and revoked=false`,
		id, at)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *PGStore) RevokeAllActive(ctx context.Context, identityID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_credentials set revoked=true, revoked_at=$2 where identity_id=$1 and revoked=false`,
		identityID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) DeleteDefunct(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_credentials where (revoked=true or expires_at <= $2) and issued_at < $1`,
		cutoff, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
