package password

import "errors"

var (
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	ErrInvalidHash     = errors.New("invalid password hash")
	ErrInvalidConfig   = errors.New("invalid password hasher configuration")
)
