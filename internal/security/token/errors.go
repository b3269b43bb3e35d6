package token

import "errors"

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrInvalidConfig    = errors.New("invalid token codec configuration")
)
