package domain

import (
	"strings"
	"time"
)

// Identity is the canonical account record.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (i *Identity) IsActive() bool {
	return i != nil && i.Active
}

// Public returns a copy without the password hash.
func (i *Identity) Public() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.PasswordHash = ""
	return &out
}

// IdentifierKind tells whether a caller-supplied identifier addresses an email or an id.
type IdentifierKind int

const (
	IdentifierID IdentifierKind = iota
	IdentifierEmail
)

func (k IdentifierKind) String() string {
	if k == IdentifierEmail {
		return "email"
	}
	return "id"
}

// ClassifyIdentifier partitions identifiers by the presence of '@'.
// Generated ids never contain '@', so the two kinds never overlap.
func ClassifyIdentifier(identifier string) IdentifierKind {
	if strings.Contains(identifier, "@") {
		return IdentifierEmail
	}
	return IdentifierID
}
