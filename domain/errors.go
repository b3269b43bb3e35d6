package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeInvalid            ErrorCode = "INVALID"
	ErrCodeInvalidEmail       ErrorCode = "INVALID_EMAIL"
	ErrCodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeUnavailable        ErrorCode = "UNAVAILABLE"
	ErrCodeInternal           ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrInvalidPayload     = NewError(ErrCodeInvalid, "invalid payload")
	ErrInvalidPassword    = NewError(ErrCodeInvalid, "invalid password")
	ErrInvalidEmail       = NewError(ErrCodeInvalidEmail, "invalid email address")
	ErrIdentityExists     = NewError(ErrCodeAlreadyExists, "identity already exists")
	ErrIdentityNotFound   = NewError(ErrCodeNotFound, "identity not found")
	ErrInvalidCredentials = NewError(ErrCodeInvalidCredentials, "incorrect email or password")
	ErrUnauthenticated    = NewError(ErrCodeUnauthenticated, "could not validate credentials")
	ErrInactiveIdentity   = NewError(ErrCodeForbidden, "inactive identity")
	ErrStoreUnavailable   = NewError(ErrCodeUnavailable, "identity store unavailable")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in the chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrCodeInternal
}

// Unavailable wraps an infrastructure failure so callers can tell it apart from a miss.
func Unavailable(op string, err error) *Error {
	return WrapError(ErrCodeUnavailable, op, err)
}
