package identity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/pkg/logger"
	"github.com/fastygo/identity/repository"
)

// Resolver turns an identifier into an identity: anything containing '@' is looked up
// as a normalized email, everything else as an id. Exactly one lookup runs per call.
type Resolver struct {
	store  repository.IdentityRepository
	logger *zap.Logger
}

func NewResolver(store repository.IdentityRepository, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the full record, hash included, or domain.ErrIdentityNotFound.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*domain.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.ErrIdentityNotFound
	}

	kind := domain.ClassifyIdentifier(identifier)
	if kind == domain.IdentifierEmail {
		email, err := domain.NormalizeEmail(identifier)
		if err != nil {
			return nil, domain.ErrIdentityNotFound
		}
		identity, err := r.store.FindByEmail(ctx, email)
		return r.result(ctx, kind, identity, err)
	}

	identity, err := r.store.FindByID(ctx, identifier)
	return r.result(ctx, kind, identity, err)
}

// Lookup resolves the identifier and strips the password hash.
func (r *Resolver) Lookup(ctx context.Context, identifier string) (*domain.Identity, error) {
	identity, err := r.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return identity.Public(), nil
}

func (r *Resolver) result(ctx context.Context, kind domain.IdentifierKind, identity *domain.Identity, err error) (*domain.Identity, error) {
	if err == nil {
		return identity, nil
	}
	if !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		logger.WithRequestID(ctx, r.logger).Warn("identity lookup failed",
			zap.String("by", kind.String()),
			zap.Error(err))
	}
	return nil, err
}
