package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func userRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name",
		"last_name", "phone", "role", "enabled", "reset_code",
		"reset_code_expires_at", "created_at", "updated_at"})
}

func TestPGStoreFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select .* from users where lower\\(email\\)=lower").
		WithArgs("dana@shop.test").
		WillReturnRows(userRows(t).AddRow(
			"user-1", "dana@shop.test", "$2a$hash", "Dana", "", "",
			"ADMIN", true, nil, nil, now, now))
	mock.ExpectQuery("select .* from users where lower\\(email\\)=lower").
		WithArgs("nobody@shop.test").
		WillReturnRows(userRows(t))

	store := NewPGStore(db)
	user, err := store.FindByEmail(context.Background(), "dana@shop.test")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.ID != "user-1" || user.Role != RoleAdmin || !user.Enabled {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.ResetCode != "" || user.ResetCodeExpiresAt != nil {
		t.Fatalf("null reset code must scan to zero values: %+v", user)
	}

	if _, err := store.FindByEmail(context.Background(), "nobody@shop.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WillReturnError(errors.New(`duplicate key value violates unique constraint "users_email_key"`))

	store := NewPGStore(db)
	err = store.Create(context.Background(), &User{
		Email:        "dana@shop.test",
		PasswordHash: "hash",
		Role:         RoleUser,
		Enabled:      true,
	})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("got %v, want ErrDuplicateIdentity", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreUpdatePasswordMissingUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update users set password_hash").
		WithArgs("ghost", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.UpdatePassword(context.Background(), "ghost", "new-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreResetCodeLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expiresAt := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	mock.ExpectExec("update users set reset_code=\\$2").
		WithArgs("user-1", "123456", expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select .* from users where reset_code=").
		WithArgs("123456").
		WillReturnRows(userRows(t).AddRow(
			"user-1", "dana@shop.test", "hash", "Dana", "", "",
			"USER", true, "123456", expiresAt, expiresAt, expiresAt))
	mock.ExpectExec("update users set reset_code=null").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	ctx := context.Background()
	if err := store.SetResetCode(ctx, "user-1", "123456", expiresAt); err != nil {
		t.Fatalf("set: %v", err)
	}
	user, err := store.FindByResetCode(ctx, "123456")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if user.ResetCode != "123456" || user.ResetCodeExpiresAt == nil {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := store.ClearResetCode(ctx, "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
