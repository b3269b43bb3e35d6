// Package bolt persists identities in an embedded BoltDB file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

var (
	identitiesBucket = []byte("identities")
	emailIndexBucket = []byte("identities_by_email")
)

// record is the on-disk form; domain.Identity hides the hash from JSON.
type record struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toRecord(identity *domain.Identity) record {
	return record{
		ID:           identity.ID,
		Email:        identity.Email,
		PasswordHash: identity.PasswordHash,
		Active:       identity.Active,
		CreatedAt:    identity.CreatedAt,
	}
}

func (r record) identity() *domain.Identity {
	return &domain.Identity{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
	}
}

// Store wraps BoltDB. Every write runs in a single Update transaction, which bbolt
// serializes, so the email check and the insert cannot interleave.
type Store struct {
	db *bolt.DB
}

var _ repository.IdentityRepository = (*Store)(nil)

// Open initializes the BoltDB file and ensures the buckets exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{identitiesBucket, emailIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.view(ctx, "check identity", func(tx *bolt.Tx) error {
		exists = tx.Bucket(emailIndexBucket).Get([]byte(email)) != nil
		return nil
	})
	return exists, err
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	var found *domain.Identity
	err := s.view(ctx, "find identity", func(tx *bolt.Tx) error {
		id := tx.Bucket(emailIndexBucket).Get([]byte(email))
		if id == nil {
			return domain.ErrIdentityNotFound
		}
		rec, err := load(tx, id)
		if err != nil {
			return err
		}
		found = rec.identity()
		return nil
	})
	return found, err
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	var found *domain.Identity
	err := s.view(ctx, "find identity", func(tx *bolt.Tx) error {
		rec, err := load(tx, []byte(id))
		if err != nil {
			return err
		}
		found = rec.identity()
		return nil
	})
	return found, err
}

func (s *Store) Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, domain.ErrInvalidPayload
	}

	rec := toRecord(identity)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	err = s.update(ctx, "insert identity", func(tx *bolt.Tx) error {
		index := tx.Bucket(emailIndexBucket)
		identities := tx.Bucket(identitiesBucket)
		if index.Get([]byte(rec.Email)) != nil || identities.Get([]byte(rec.ID)) != nil {
			return domain.ErrIdentityExists
		}
		if err := identities.Put([]byte(rec.ID), payload); err != nil {
			return err
		}
		return index.Put([]byte(rec.Email), []byte(rec.ID))
	})
	if err != nil {
		return nil, err
	}
	return rec.identity(), nil
}

func (s *Store) ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error) {
	return s.mutate(ctx, "replace password hash", idOrEmail, func(rec *record) {
		rec.PasswordHash = hash
	})
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	return s.mutate(ctx, "set identity active", id, func(rec *record) {
		rec.Active = active
	})
}

// Size returns the number of stored identities.
func (s *Store) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(identitiesBucket).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Size()
	return err
}

// Close closes the Bolt database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) mutate(ctx context.Context, op, idOrEmail string, apply func(*record)) (int64, error) {
	var affected int64
	err := s.update(ctx, op, func(tx *bolt.Tx) error {
		id := []byte(idOrEmail)
		if domain.ClassifyIdentifier(idOrEmail) == domain.IdentifierEmail {
			id = tx.Bucket(emailIndexBucket).Get([]byte(idOrEmail))
			if id == nil {
				return nil
			}
		}
		rec, err := load(tx, id)
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		apply(&rec)
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(identitiesBucket).Put([]byte(rec.ID), payload); err != nil {
			return err
		}
		affected = 1
		return nil
	})
	return affected, err
}

func (s *Store) view(ctx context.Context, op string, fn func(*bolt.Tx) error) error {
	if err := s.ready(ctx, op); err != nil {
		return err
	}
	return classify(op, s.db.View(fn))
}

func (s *Store) update(ctx context.Context, op string, fn func(*bolt.Tx) error) error {
	if err := s.ready(ctx, op); err != nil {
		return err
	}
	return classify(op, s.db.Update(fn))
}

func (s *Store) ready(ctx context.Context, op string) error {
	if s == nil || s.db == nil {
		return domain.Unavailable(op, bolt.ErrDatabaseNotOpen)
	}
	if err := ctx.Err(); err != nil {
		return domain.Unavailable(op, err)
	}
	return nil
}

func load(tx *bolt.Tx, id []byte) (record, error) {
	var rec record
	raw := tx.Bucket(identitiesBucket).Get(id)
	if raw == nil {
		return rec, domain.ErrIdentityNotFound
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, domain.WrapError(domain.ErrCodeInternal, "decode identity", err)
	}
	return rec, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return err
	}
	return domain.Unavailable(op, err)
}
