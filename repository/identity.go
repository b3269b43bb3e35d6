package repository

import (
	"context"

	"github.com/fastygo/identity/domain"
)

// IdentityRepository is the store contract the credential core depends on.
//
// Emails passed in are already normalized. Find methods return domain.ErrIdentityNotFound
// on a miss, Insert returns domain.ErrIdentityExists when the email is taken, and
// infrastructure failures come back with domain.ErrCodeUnavailable.
type IdentityRepository interface {
	Exists(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error)
	// ReplacePasswordHash swaps the whole hash of the identity addressed by id or email
	// and reports how many records changed.
	ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error)
	// SetActive toggles the active flag. Not used by the credential flows themselves.
	SetActive(ctx context.Context, id string, active bool) (int64, error)
}

// Pinger is implemented by stores that can report liveness to the monitor.
type Pinger interface {
	Ping(ctx context.Context) error
}
