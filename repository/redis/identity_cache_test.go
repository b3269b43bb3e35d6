package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
	"github.com/fastygo/identity/repository/memory"
	"github.com/fastygo/identity/repository/repotest"
)

func openTestClient(t *testing.T) *redislib.Client {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("IDENTITY_TEST_REDIS_URL"))
	if url == "" {
		t.Skip("integration test skipped: IDENTITY_TEST_REDIS_URL is not set")
	}
	opts, err := redislib.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redislib.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIdentityCacheContract(t *testing.T) {
	client := openTestClient(t)
	repotest.Run(t, func(t *testing.T) repository.IdentityRepository {
		return NewIdentityCache(memory.New(), client, time.Minute, nil)
	})
}

func TestReplaceEvictsCachedHash(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	cache := NewIdentityCache(memory.New(), client, time.Minute, nil)

	identity := repotest.NewIdentity()
	if _, err := cache.Insert(ctx, identity); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := cache.FindByID(ctx, identity.ID); err != nil {
		t.Fatalf("warm by id: %v", err)
	}
	if _, err := cache.FindByEmail(ctx, identity.Email); err != nil {
		t.Fatalf("warm by email: %v", err)
	}

	if _, err := cache.ReplacePasswordHash(ctx, identity.ID, "fresh"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	byEmail, err := cache.FindByEmail(ctx, identity.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.PasswordHash != "fresh" {
		t.Fatalf("stale hash served from cache: %q", byEmail.PasswordHash)
	}
}

func TestUnreachableRedisFallsThrough(t *testing.T) {
	client := redislib.NewClient(&redislib.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	repotest.Run(t, func(t *testing.T) repository.IdentityRepository {
		return NewIdentityCache(memory.New(), client, time.Minute, nil)
	})
}

// replacingStore returns the record it read, then lets onLoad write before the
// caller sees it, like a password change landing while a sign-in loads.
type replacingStore struct {
	*memory.Store
	onLoad func()
}

func (s *replacingStore) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	identity, err := s.Store.FindByID(ctx, id)
	if hook := s.onLoad; hook != nil {
		s.onLoad = nil
		hook()
	}
	return identity, err
}

func TestConcurrentReplaceDropsStaleFill(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()

	store := &replacingStore{Store: memory.New()}
	cache := NewIdentityCache(store, client, time.Minute, nil)

	identity := repotest.NewIdentity()
	identity.PasswordHash = "old"
	if _, err := cache.Insert(ctx, identity); err != nil {
		t.Fatalf("insert: %v", err)
	}

	store.onLoad = func() {
		if _, err := cache.ReplacePasswordHash(ctx, identity.ID, "fresh"); err != nil {
			t.Errorf("replace: %v", err)
		}
	}
	loaded, err := cache.FindByID(ctx, identity.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.PasswordHash != "old" {
		t.Fatalf("expected the racing read to see the old record, got %q", loaded.PasswordHash)
	}

	for _, find := range []func() (*domain.Identity, error){
		func() (*domain.Identity, error) { return cache.FindByID(ctx, identity.ID) },
		func() (*domain.Identity, error) { return cache.FindByEmail(ctx, identity.Email) },
	} {
		got, err := find()
		if err != nil {
			t.Fatalf("find after replace: %v", err)
		}
		if got.PasswordHash != "fresh" {
			t.Fatalf("stale hash filled into cache: %q", got.PasswordHash)
		}
	}
}
