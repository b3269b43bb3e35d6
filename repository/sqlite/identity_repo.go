// Package sqlite persists identities in a single SQLite file through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL
);
`

// Store implements repository.IdentityRepository over SQLite.
type Store struct {
	db *sql.DB
}

var _ repository.IdentityRepository = (*Store)(nil)

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps SQLITE_BUSY out of the request path.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM identities WHERE email = ?1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, classify("check identity", err)
	}
	return exists, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	const query = `
SELECT id, email, password_hash, active, created_at
FROM identities
WHERE email = ?1;
`
	return s.scanOne(ctx, query, email)
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	const query = `
SELECT id, email, password_hash, active, created_at
FROM identities
WHERE id = ?1;
`
	return s.scanOne(ctx, query, id)
}

func (s *Store) Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, domain.ErrInvalidPayload
	}

	const query = `
INSERT INTO identities (id, email, password_hash, active, created_at)
VALUES (?1, ?2, ?3, ?4, ?5);
`
	stored := *identity
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.CreatedAt = fromMillis(toMillis(stored.CreatedAt))

	if _, err := s.db.ExecContext(ctx, query,
		stored.ID,
		stored.Email,
		stored.PasswordHash,
		stored.Active,
		toMillis(stored.CreatedAt),
	); err != nil {
		return nil, classify("insert identity", err)
	}
	return &stored, nil
}

func (s *Store) ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error) {
	query := `UPDATE identities SET password_hash = ?2 WHERE id = ?1`
	if domain.ClassifyIdentifier(idOrEmail) == domain.IdentifierEmail {
		query = `UPDATE identities SET password_hash = ?2 WHERE email = ?1`
	}
	return s.exec(ctx, "replace password hash", query, idOrEmail, hash)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	const query = `UPDATE identities SET active = ?2 WHERE id = ?1`
	return s.exec(ctx, "set identity active", query, id, active)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func (s *Store) scanOne(ctx context.Context, query, arg string) (*domain.Identity, error) {
	var (
		identity  domain.Identity
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Active,
		&createdAt,
	)
	if err != nil {
		return nil, classify("find identity", err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	return &identity, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func classify(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrIdentityNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return domain.ErrIdentityExists
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return domain.Unavailable(op, err)
		}
		return domain.WrapError(domain.ErrCodeInternal, op, err)
	}
	return domain.Unavailable(op, err)
}
