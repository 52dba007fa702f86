package auth

import (
	"context"
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is an account in the store's user directory. The security core only
// reads identity attributes; profile management lives elsewhere.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         Role
	Enabled      bool

	ResetCode          string
	ResetCodeExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the identity projection returned to clients after
// authentication. It never carries the password hash.
type Summary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
}

func (u *User) summary() Summary {
	return Summary{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// TokenPair bundles a fresh access grant with its refresh credential.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// UserStore describes persistence operations on the user directory that the
// verifier requires.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error
	FindByResetCode(ctx context.Context, code string) (*User, error)
	ClearResetCode(ctx context.Context, userID string) error
}

// CodeSender delivers password reset codes. SMTP delivery is a deployment
// concern; the in-tree implementation only logs.
type CodeSender interface {
	SendResetCode(ctx context.Context, email, firstName, code string) error
}
