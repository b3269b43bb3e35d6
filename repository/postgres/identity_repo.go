package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository instantiates a Postgres-backed identity repository.
// Email uniqueness is enforced by the identities_email_key index.
func NewIdentityRepository(pool *pgxpool.Pool) repository.IdentityRepository {
	return &identityRepository{pool: pool}
}

func (r *identityRepository) Exists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM identities WHERE email = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, classify("check identity", err)
	}
	return exists, nil
}

func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	const query = `
		SELECT id, email, password_hash, active, created_at
		FROM identities
		WHERE email = $1
	`
	return r.scanOne(ctx, query, email)
}

func (r *identityRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	const query = `
		SELECT id, email, password_hash, active, created_at
		FROM identities
		WHERE id = $1
	`
	return r.scanOne(ctx, query, id)
}

func (r *identityRepository) Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO identities (id, email, password_hash, active, created_at)
	VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
	RETURNING created_at;
	`

	stored := *identity
	if err := r.pool.QueryRow(ctx, query,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.Active,
		nullTime(identity.CreatedAt),
	).Scan(&stored.CreatedAt); err != nil {
		return nil, classify("insert identity", err)
	}
	return &stored, nil
}

func (r *identityRepository) ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error) {
	query := `UPDATE identities SET password_hash = $2 WHERE id = $1`
	if domain.ClassifyIdentifier(idOrEmail) == domain.IdentifierEmail {
		query = `UPDATE identities SET password_hash = $2 WHERE email = $1`
	}

	tag, err := r.pool.Exec(ctx, query, idOrEmail, hash)
	if err != nil {
		return 0, classify("replace password hash", err)
	}
	return tag.RowsAffected(), nil
}

func (r *identityRepository) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	const query = `UPDATE identities SET active = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return 0, classify("set identity active", err)
	}
	return tag.RowsAffected(), nil
}

func (r *identityRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *identityRepository) scanOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Active,
		&identity.CreatedAt,
	)
	if err != nil {
		return nil, classify("find identity", err)
	}
	return &identity, nil
}
