package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"babycash.store/internal/ids"
)

// PGStore implements UserStore using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ UserStore = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, enabled, reset_code, reset_code_expires_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, string(u.Role),
		u.Enabled, nullString(u.ResetCode), u.ResetCodeExpiresAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdentity
		}
		// Drivers other than pgx report the violation as a plain error; fall
		// back to the constraint name in the message.
		if strings.Contains(err.Error(), "users_email") {
			return ErrDuplicateIdentity
		}
		return err
	}
	return nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email)
	return scanUser(row)
}

func (s *PGStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *PGStore) SetResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set reset_code=$2, reset_code_expires_at=$3, updated_at=now() where id=$1`,
		userID, code, expiresAt)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *PGStore) FindByResetCode(ctx context.Context, code string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where reset_code=$1`, code)
	return scanUser(row)
}

func (s *PGStore) ClearResetCode(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set reset_code=null, reset_code_expires_at=null, updated_at=now() where id=$1`,
		userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		role      string
		resetCode sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&role, &u.Enabled, &resetCode, &u.ResetCodeExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.ResetCode = resetCode.String
	return &u, nil
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
