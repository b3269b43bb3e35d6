// Package memory keeps identities in process memory. It backs the "memory" store driver
// used for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

// Store is a mutex-guarded identity map with an email index.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]domain.Identity
	byEmail map[string]string
}

var _ repository.IdentityRepository = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:    make(map[string]domain.Identity),
		byEmail: make(map[string]string),
	}
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.Unavailable("check identity", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("find identity", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	identity := s.byID[id]
	return &identity, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("find identity", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &identity, nil
}

func (s *Store) Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, domain.ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("insert identity", err)
	}

	stored := *identity
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[stored.Email]; taken {
		return nil, domain.ErrIdentityExists
	}
	if _, taken := s.byID[stored.ID]; taken {
		return nil, domain.ErrIdentityExists
	}
	s.byID[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID

	out := stored
	return &out, nil
}

func (s *Store) ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error) {
	return s.update(ctx, idOrEmail, func(identity *domain.Identity) {
		identity.PasswordHash = hash
	})
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	return s.update(ctx, id, func(identity *domain.Identity) {
		identity.Active = active
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports how many identities are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) update(ctx context.Context, idOrEmail string, mutate func(*domain.Identity)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Unavailable("update identity", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := idOrEmail
	if domain.ClassifyIdentifier(idOrEmail) == domain.IdentifierEmail {
		id = s.byEmail[idOrEmail]
	}
	identity, ok := s.byID[id]
	if !ok {
		return 0, nil
	}
	mutate(&identity)
	s.byID[id] = identity
	return 1, nil
}
