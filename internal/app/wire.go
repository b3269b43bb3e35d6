// Package app assembles the identity components from configuration. It is shared by
// the HTTP server and identityctl.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/identity/internal/config"
	"github.com/fastygo/identity/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/identity/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/identity/internal/infrastructure/redis"
	"github.com/fastygo/identity/internal/metrics"
	"github.com/fastygo/identity/internal/security/password"
	"github.com/fastygo/identity/internal/security/token"
	"github.com/fastygo/identity/internal/services/lifecycle"
	"github.com/fastygo/identity/pkg/ids"
	"github.com/fastygo/identity/repository"
	boltRepo "github.com/fastygo/identity/repository/bolt"
	"github.com/fastygo/identity/repository/memory"
	"github.com/fastygo/identity/repository/postgres"
	redisRepo "github.com/fastygo/identity/repository/redis"
	sqliteRepo "github.com/fastygo/identity/repository/sqlite"
	credentialUC "github.com/fastygo/identity/usecase/credential"
	identityUC "github.com/fastygo/identity/usecase/identity"
)

const probeTimeout = 2 * time.Second

// Components is everything an entrypoint needs once startup succeeded.
type Components struct {
	Store       repository.IdentityRepository
	Resolver    *identityUC.Resolver
	Credentials *credentialUC.Service
	Codec       *token.Codec
	Hasher      *password.Hasher
	Metrics     *metrics.Metrics
	Probes      []monitor.Probe
}

// Build opens the configured store and wires the services on top of it. Every opened
// resource is registered with manager for shutdown.
func Build(ctx context.Context, cfg *config.Config, manager *lifecycle.Manager, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, probes, err := OpenStore(ctx, cfg, manager, logger)
	if err != nil {
		return nil, err
	}

	hasher, err := NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		Secret:    []byte(cfg.Token.Secret),
		Algorithm: cfg.Token.Algorithm,
		Issuer:    cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}

	newID, err := ids.ForScheme(cfg.IDScheme)
	if err != nil {
		return nil, err
	}

	m := metrics.New("identity")
	resolver := identityUC.NewResolver(store, logger.Named("resolver"))
	svc := credentialUC.New(store, resolver, hasher, codec, credentialUC.Config{
		TokenTTL:        cfg.Token.TTL,
		HashConcurrency: cfg.Password.HashConcurrency,
		NewID:           newID,
		Recorder:        m,
	}, logger.Named("credential"))

	return &Components{
		Store:       store,
		Resolver:    resolver,
		Credentials: svc,
		Codec:       codec,
		Hasher:      hasher,
		Metrics:     m,
		Probes:      probes,
	}, nil
}

// OpenStore opens the store selected by cfg.Store.Driver, wraps it with the Redis cache
// when enabled, and returns the health probes for what it opened.
func OpenStore(ctx context.Context, cfg *config.Config, manager *lifecycle.Manager, logger *zap.Logger) (repository.IdentityRepository, []monitor.Probe, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var store repository.IdentityRepository
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := pgInfra.RunMigrations(cfg.Database, cfg.Migrations, logger); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := pgInfra.NewPool(ctx, cfg.Database, cfg.AppName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		manager.Register("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
		store = postgres.NewIdentityRepository(pool)
	case config.DriverSQLite:
		if err := ensureDir(cfg.Store.SQLitePath); err != nil {
			return nil, nil, err
		}
		s, err := sqliteRepo.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		manager.Register("sqlite", lifecycle.Closer(s.Close))
		store = s
	case config.DriverBolt:
		s, err := boltRepo.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("boltdb: %w", err)
		}
		manager.Register("boltdb", lifecycle.Closer(s.Close))
		store = s
	case config.DriverMemory:
		logger.Warn("using in-memory identity store; data is lost on restart")
		store = memory.New()
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	logger.Info("identity store opened", zap.String("driver", cfg.Store.Driver))

	var probes []monitor.Probe
	if p, ok := store.(repository.Pinger); ok {
		probes = append(probes, monitor.Probe{Name: cfg.Store.Driver, Check: p.Ping, Timeout: probeTimeout})
	}

	if !cfg.Cache.Enabled {
		return store, probes, nil
	}

	client, err := redisInfra.NewClient(ctx, cfg.Redis, cfg.AppName, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	manager.Register("redis", lifecycle.Closer(client.Close))

	cache := redisRepo.NewIdentityCache(store, client, cfg.Cache.TTL, logger.Named("cache"))
	probes = append(probes, monitor.Probe{Name: "redis", Check: cache.Ping, Timeout: probeTimeout})
	return cache, probes, nil
}

// NewHasher maps the password settings onto a password.Hasher.
func NewHasher(cfg config.PasswordConfig) (*password.Hasher, error) {
	hc := password.DefaultConfig()
	hc.Algorithm = password.Algorithm(cfg.Algorithm)
	hc.BcryptCost = cfg.BcryptCost
	if cfg.Argon2MemoryKiB > 0 {
		hc.Argon2id.MemoryKiB = uint32(cfg.Argon2MemoryKiB)
	}
	if cfg.Argon2Iterations > 0 {
		hc.Argon2id.Iterations = uint32(cfg.Argon2Iterations)
	}
	if cfg.Argon2Parallelism > 0 && cfg.Argon2Parallelism <= 255 {
		hc.Argon2id.Parallelism = uint8(cfg.Argon2Parallelism)
	}
	return password.New(hc)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
