// Package repotest holds the behavioral suite every IdentityRepository implementation must pass.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/repository"
)

// Opener returns a ready repository scoped to the calling test.
type Opener func(t *testing.T) repository.IdentityRepository

// Run executes the repository contract against the store returned by open.
func Run(t *testing.T, open Opener) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, open(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, open(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, open(t)) })
	t.Run("ReplacePasswordHash", func(t *testing.T) { testReplacePasswordHash(t, open(t)) })
	t.Run("SetActive", func(t *testing.T) { testSetActive(t, open(t)) })
	t.Run("ConcurrentSameEmail", func(t *testing.T) { testConcurrentSameEmail(t, open(t)) })
}

// NewIdentity builds an identity with a unique id and email.
func NewIdentity() *domain.Identity {
	id := uuid.NewString()
	return &domain.Identity{
		ID:           id,
		Email:        id[:8] + "@test.io",
		PasswordHash: "hash-" + id,
		Active:       true,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testInsertAndFind(t *testing.T, repo repository.IdentityRepository) {
	ctx := context.Background()
	want := NewIdentity()

	exists, err := repo.Exists(ctx, want.Email)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("identity should not exist before insert")
	}

	stored, err := repo.Insert(ctx, want)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.ID != want.ID || stored.Email != want.Email {
		t.Fatalf("unexpected stored identity: %+v", stored)
	}

	exists, err = repo.Exists(ctx, want.Email)
	if err != nil || !exists {
		t.Fatalf("expected identity to exist, got %v, %v", exists, err)
	}

	byEmail, err := repo.FindByEmail(ctx, want.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	byID, err := repo.FindByID(ctx, want.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	for _, got := range []*domain.Identity{byEmail, byID} {
		if got.ID != want.ID || got.Email != want.Email || got.PasswordHash != want.PasswordHash || !got.Active {
			t.Fatalf("unexpected identity: %+v", got)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Fatalf("created_at mismatch: got %v want %v", got.CreatedAt, want.CreatedAt)
		}
	}
}

func testDuplicateEmail(t *testing.T, repo repository.IdentityRepository) {
	ctx := context.Background()
	first := NewIdentity()
	if _, err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := NewIdentity()
	second.Email = first.Email
	_, err := repo.Insert(ctx, second)
	if !domain.IsDomainError(err, domain.ErrCodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}

	if _, err := repo.FindByID(ctx, second.ID); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("rejected identity must not be stored, got %v", err)
	}
}

func testFindMissing(t *testing.T, repo repository.IdentityRepository) {
	ctx := context.Background()
	if _, err := repo.FindByID(ctx, uuid.NewString()); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND by id, got %v", err)
	}
	if _, err := repo.FindByEmail(ctx, "missing-"+uuid.NewString()[:8]+"@test.io"); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND by email, got %v", err)
	}
}

func testReplacePasswordHash(t *testing.T, repo repository.IdentityRepository) {
	ctx := context.Background()
	identity := NewIdentity()
	if _, err := repo.Insert(ctx, identity); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.ReplacePasswordHash(ctx, identity.ID, "by-id")
	if err != nil || n != 1 {
		t.Fatalf("replace by id: n=%d err=%v", n, err)
	}
	got, _ := repo.FindByID(ctx, identity.ID)
	if got.PasswordHash != "by-id" {
		t.Fatalf("expected hash replaced by id, got %q", got.PasswordHash)
	}

	n, err = repo.ReplacePasswordHash(ctx, identity.Email, "by-email")
	if err != nil || n != 1 {
		t.Fatalf("replace by email: n=%d err=%v", n, err)
	}
	got, _ = repo.FindByEmail(ctx, identity.Email)
	if got.PasswordHash != "by-email" {
		t.Fatalf("expected hash replaced by email, got %q", got.PasswordHash)
	}

	n, err = repo.ReplacePasswordHash(ctx, uuid.NewString(), "nobody")
	if err != nil || n != 0 {
		t.Fatalf("replace missing: n=%d err=%v", n, err)
	}
}

func testSetActive(t *testing.T, repo repository.IdentityRepository) {
	ctx := context.Background()
	identity := NewIdentity()
	if _, err := repo.Insert(ctx, identity); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.SetActive(ctx, identity.ID, false)
	if err != nil || n != 1 {
		t.Fatalf("set active: n=%d err=%v", n, err)
	}
	got, _ := repo.FindByEmail(ctx, identity.Email)
	if got.Active {
		t.Fatal("expected identity to be inactive")
	}

	n, err = repo.SetActive(ctx, uuid.NewString(), true)
	if err != nil || n != 0 {
		t.Fatalf("set active missing: n=%d err=%v", n, err)
	}
}

func testConcurrentSameEmail(t *testing.T, repo repository.IdentityRepository) {
	const workers = 16
	ctx := context.Background()
	email := NewIdentity().Email

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity := NewIdentity()
			identity.Email = email
			<-start
			_, err := repo.Insert(ctx, identity)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.IsDomainError(err, domain.ErrCodeAlreadyExists):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", errors.Join(others...))
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", workers-1, successes, conflicts)
	}
}
