package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

// cachedIdentity carries the hash, which domain.Identity keeps out of JSON.
type cachedIdentity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentityCache is a read-through cache in front of another repository.
// Misses are never cached and every write evicts both keys of the identity. A fill
// that raced with a write is dropped, so an old hash cannot outlive its replacement.
// Cache failures are logged and fall through to the store.
type IdentityCache struct {
	next   repository.IdentityRepository
	client redislib.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.IdentityRepository = (*IdentityCache)(nil)

var errStaleFill = errors.New("identity changed while loading")

// NewIdentityCache wraps next with a Redis cache.
func NewIdentityCache(next repository.IdentityRepository, client redislib.UniversalClient, ttl time.Duration, logger *zap.Logger) *IdentityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCache{
		next:   next,
		client: client,
		prefix: "identity:",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *IdentityCache) Exists(ctx context.Context, email string) (bool, error) {
	return c.next.Exists(ctx, email)
}

func (c *IdentityCache) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return c.readThrough(ctx, c.emailKey(email), func() (*domain.Identity, error) {
		return c.next.FindByEmail(ctx, email)
	})
}

func (c *IdentityCache) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	return c.readThrough(ctx, c.idKey(id), func() (*domain.Identity, error) {
		return c.next.FindByID(ctx, id)
	})
}

func (c *IdentityCache) Insert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	return c.next.Insert(ctx, identity)
}

func (c *IdentityCache) ReplacePasswordHash(ctx context.Context, idOrEmail, hash string) (int64, error) {
	n, err := c.next.ReplacePasswordHash(ctx, idOrEmail, hash)
	if err == nil && n > 0 {
		c.evict(ctx, idOrEmail)
	}
	return n, err
}

func (c *IdentityCache) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	n, err := c.next.SetActive(ctx, id, active)
	if err == nil && n > 0 {
		c.evict(ctx, id)
	}
	return n, err
}

func (c *IdentityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *IdentityCache) readThrough(ctx context.Context, key string, load func() (*domain.Identity, error)) (*domain.Identity, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedIdentity
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached.identity(), nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redislib.Nil):
		c.logger.Warn("identity cache read failed", zap.Error(err))
	}

	// The generation is read before the store so that a write landing while the
	// store is consulted is detected by fill.
	seen, genErr := c.generation(ctx, c.client, key)

	identity, err := load()
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.fill(ctx, key, seen, identity)
	}
	return identity, nil
}

// fill caches identity under both keys unless the generation of key moved past seen.
func (c *IdentityCache) fill(ctx context.Context, key string, seen int64, identity *domain.Identity) {
	payload, err := json.Marshal(cachedIdentity{
		ID:           identity.ID,
		Email:        identity.Email,
		PasswordHash: identity.PasswordHash,
		Active:       identity.Active,
		CreatedAt:    identity.CreatedAt,
	})
	if err != nil {
		return
	}

	idKey, emailKey := c.idKey(identity.ID), c.emailKey(identity.Email)
	err = c.client.Watch(ctx, func(tx *redislib.Tx) error {
		current, err := c.generation(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != seen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
			pipe.Set(ctx, idKey, payload, c.ttl)
			pipe.Set(ctx, emailKey, payload, c.ttl)
			return nil
		})
		return err
	}, c.genKey(key), c.genKey(idKey), c.genKey(emailKey))

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redislib.TxFailedErr):
		c.logger.Debug("identity cache fill skipped after concurrent write", zap.String("key", key))
	default:
		c.logger.Warn("identity cache write failed", zap.Error(err))
	}
}

// getter is the read half shared by the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redislib.StringCmd
}

func (c *IdentityCache) generation(ctx context.Context, cmd getter, key string) (int64, error) {
	gen, err := cmd.Get(ctx, c.genKey(key)).Int64()
	if errors.Is(err, redislib.Nil) {
		return 0, nil
	}
	return gen, err
}

// evict bumps the generation of every key of the identity and drops the cached
// records in one transaction. The store is consulted for the counterpart key because
// the caller may only know one of id and email.
func (c *IdentityCache) evict(ctx context.Context, idOrEmail string) {
	keys := []string{c.idKey(idOrEmail), c.emailKey(idOrEmail)}

	var identity *domain.Identity
	var err error
	if domain.ClassifyIdentifier(idOrEmail) == domain.IdentifierEmail {
		identity, err = c.next.FindByEmail(ctx, idOrEmail)
	} else {
		identity, err = c.next.FindByID(ctx, idOrEmail)
	}
	if err == nil {
		keys = append(keys, c.idKey(identity.ID), c.emailKey(identity.Email))
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, c.genKey(key))
			pipe.Expire(ctx, c.genKey(key), c.genTTL())
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		c.logger.Warn("identity cache eviction failed", zap.Error(err))
	}
}

// genTTL outlives any fill that could have read the generation before a bump.
func (c *IdentityCache) genTTL() time.Duration {
	return 10 * c.ttl
}

func (c *IdentityCache) genKey(key string) string {
	return c.prefix + "gen:" + strings.TrimPrefix(key, c.prefix)
}

func (c *IdentityCache) idKey(id string) string {
	return fmt.Sprintf("%sid:%s", c.prefix, id)
}

func (c *IdentityCache) emailKey(email string) string {
	return fmt.Sprintf("%semail:%s", c.prefix, email)
}

func (ci cachedIdentity) identity() *domain.Identity {
	return &domain.Identity{
		ID:           ci.ID,
		Email:        ci.Email,
		PasswordHash: ci.PasswordHash,
		Active:       ci.Active,
		CreatedAt:    ci.CreatedAt,
	}
}
