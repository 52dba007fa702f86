package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDuplicateIdentity  = errors.New("auth: identity already exists")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidResetCode   = errors.New("auth: invalid or expired reset code")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
