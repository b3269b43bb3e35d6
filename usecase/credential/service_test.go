package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/internal/security/password"
	"github.com/fastygo/identity/internal/security/token"
	"github.com/fastygo/identity/repository"
	"github.com/fastygo/identity/repository/memory"
	"github.com/fastygo/identity/usecase/identity"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	hashes   int
}

func (r *countingRecorder) ObserveOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[operation+"/"+outcome]++
}

func (r *countingRecorder) ObserveHash(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes++
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *clock
	codec    *token.Codec
	recorder *countingRecorder
}

func newHasher(t *testing.T, cost int) *password.Hasher {
	t.Helper()
	h, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: cost})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return newFixtureWithStore(t, store, store, bcrypt.MinCost)
}

func newFixtureWithStore(t *testing.T, repo repository.IdentityRepository, store *memory.Store, cost int) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec(token.Config{
		Secret:    []byte("test-secret-test-secret-test-secret"),
		Algorithm: "HS256",
		Issuer:    "identity-test",
		Now:       clk.Now,
	})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	recorder := &countingRecorder{}
	svc := New(repo, identity.NewResolver(repo, nil), newHasher(t, cost), codec, Config{
		TokenTTL: 15 * time.Minute,
		Now:      clk.Now,
		Recorder: recorder,
	}, nil)
	return &fixture{svc: svc, store: store, clock: clk, codec: codec, recorder: recorder}
}

func assertCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	if !domain.IsDomainError(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.SignUp(ctx, "  New.User@Example.COM ", "p1")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if created.Email != "new.user@example.com" {
		t.Fatalf("email not normalized: %q", created.Email)
	}
	if created.PasswordHash != "" {
		t.Fatal("sign up must not return the hash")
	}
	if !created.Active || created.ID == "" || strings.Contains(created.ID, "@") {
		t.Fatalf("unexpected identity: %+v", created)
	}
	if !created.CreatedAt.Equal(f.clock.Now()) {
		t.Fatalf("created_at %v, want %v", created.CreatedAt, f.clock.Now())
	}

	stored, err := f.store.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find stored: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "p1" {
		t.Fatalf("stored hash looks wrong: %q", stored.PasswordHash)
	}
}

func TestSignUpRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SignUp(ctx, "a@x.com", "p1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
		code     domain.ErrorCode
	}{
		{name: "duplicate", email: "a@x.com", password: "p2", code: domain.ErrCodeAlreadyExists},
		{name: "equivalent duplicate", email: " A@X.com", password: "p2", code: domain.ErrCodeAlreadyExists},
		{name: "malformed email", email: "a-at-x.com", password: "p2", code: domain.ErrCodeInvalidEmail},
		{name: "empty password", email: "b@x.com", password: "", code: domain.ErrCodeInvalid},
		{name: "oversized password", email: "c@x.com", password: strings.Repeat("x", password.MaxPasswordBytes+1), code: domain.ErrCodeInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SignUp(ctx, tc.email, tc.password)
			assertCode(t, err, tc.code)
		})
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected only the seeded identity, got %d", f.store.Len())
	}
}

func TestSignInCollapsesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.svc.SignUp(ctx, "active@x.com", "right")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	inactive, err := f.svc.SignUp(ctx, "inactive@x.com", "right")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.store.SetActive(ctx, inactive.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	var messages []string
	for _, tc := range []struct{ email, password string }{
		{"active@x.com", "wrong"},
		{"inactive@x.com", "right"},
		{"nobody@x.com", "right"},
		{"not-an-email", "right"},
	} {
		_, err := f.svc.SignIn(ctx, tc.email, tc.password)
		assertCode(t, err, domain.ErrCodeInvalidCredentials)
		messages = append(messages, err.Error())
	}
	for _, msg := range messages[1:] {
		if msg != messages[0] {
			t.Fatalf("failure messages must be indistinguishable: %q vs %q", msg, messages[0])
		}
	}

	grant, err := f.svc.SignIn(ctx, "ACTIVE@x.com", "right")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if grant.IdentityID != active.ID || grant.TokenType != "bearer" || grant.ExpiresIn != int64((15*time.Minute)/time.Second) {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if !grant.ExpiresAt.Equal(f.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", grant.ExpiresAt)
	}
	claims, err := f.codec.Verify(grant.AccessToken)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.Subject() != active.ID || claims[token.ClaimEmail] != "active@x.com" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestEndToEndPasswordLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.SignUp(ctx, "u@test.io", "p1")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	grant, err := f.svc.SignIn(ctx, "u@test.io", "p1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	current, err := f.svc.ResolveCurrentIdentity(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if current.ID != created.ID {
		t.Fatalf("resolved %q, want %q", current.ID, created.ID)
	}

	if err := f.svc.ChangePassword(ctx, current, "wrong", "p2"); !domain.IsDomainError(err, domain.ErrCodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS for wrong old password, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, current, "p1", "p2"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	_, err = f.svc.SignIn(ctx, "u@test.io", "p1")
	assertCode(t, err, domain.ErrCodeInvalidCredentials)
	if _, err := f.svc.SignIn(ctx, "u@test.io", "p2"); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SignUp(ctx, "r@x.com", "old"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	assertCode(t, f.svc.ResetPassword(ctx, "missing@x.com", "new"), domain.ErrCodeNotFound)
	assertCode(t, f.svc.ResetPassword(ctx, "bad email", "new"), domain.ErrCodeInvalidEmail)
	assertCode(t, f.svc.ResetPassword(ctx, "r@x.com", ""), domain.ErrCodeInvalid)

	if err := f.svc.ResetPassword(ctx, "R@X.COM", "new"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err := f.svc.SignIn(ctx, "r@x.com", "old")
	assertCode(t, err, domain.ErrCodeInvalidCredentials)
	if _, err := f.svc.SignIn(ctx, "r@x.com", "new"); err != nil {
		t.Fatalf("sign in after reset: %v", err)
	}
}

func TestChangePasswordRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	assertCode(t, f.svc.ChangePassword(context.Background(), nil, "a", "b"), domain.ErrCodeUnauthenticated)
}

func TestResolveCurrentIdentityFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.SignUp(ctx, "t@x.com", "pw")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	grant, err := f.svc.SignIn(ctx, "t@x.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	_, err = f.svc.ResolveCurrentIdentity(ctx, "")
	assertCode(t, err, domain.ErrCodeUnauthenticated)

	_, err = f.svc.ResolveCurrentIdentity(ctx, "garbage")
	assertCode(t, err, domain.ErrCodeUnauthenticated)
	if !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("expected the codec cause to be kept, got %v", err)
	}

	tampered := []byte(grant.AccessToken)
	tampered[len(tampered)/3] ^= 0x01
	_, err = f.svc.ResolveCurrentIdentity(ctx, string(tampered))
	assertCode(t, err, domain.ErrCodeUnauthenticated)

	dangling, _, err := f.codec.Issue(map[string]interface{}{token.ClaimSubject: "deleted-id"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = f.svc.ResolveCurrentIdentity(ctx, dangling)
	assertCode(t, err, domain.ErrCodeUnauthenticated)

	if _, err := f.store.SetActive(ctx, created.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = f.svc.ResolveCurrentIdentity(ctx, grant.AccessToken)
	assertCode(t, err, domain.ErrCodeForbidden)

	f.clock.Advance(15 * time.Minute)
	_, err = f.svc.ResolveCurrentIdentity(ctx, grant.AccessToken)
	assertCode(t, err, domain.ErrCodeUnauthenticated)
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected expiry cause, got %v", err)
	}
}

// failingStore reports every call as an infrastructure outage.
type failingStore struct {
	*memory.Store
}

func (failingStore) FindByEmail(context.Context, string) (*domain.Identity, error) {
	return nil, domain.Unavailable("find identity", errors.New("connection refused"))
}

func (failingStore) FindByID(context.Context, string) (*domain.Identity, error) {
	return nil, domain.Unavailable("find identity", errors.New("connection refused"))
}

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, domain.Unavailable("check identity", errors.New("connection refused"))
}

func TestStoreOutageIsNotMasked(t *testing.T) {
	store := memory.New()
	f := newFixtureWithStore(t, failingStore{Store: store}, store, bcrypt.MinCost)
	ctx := context.Background()

	_, err := f.svc.SignIn(ctx, "a@x.com", "pw")
	assertCode(t, err, domain.ErrCodeUnavailable)
	_, err = f.svc.SignUp(ctx, "a@x.com", "pw")
	assertCode(t, err, domain.ErrCodeUnavailable)
	assertCode(t, f.svc.ResetPassword(ctx, "a@x.com", "pw"), domain.ErrCodeUnavailable)

	raw, _, _ := f.codec.Issue(map[string]interface{}{token.ClaimSubject: "some-id"}, time.Minute)
	_, err = f.svc.ResolveCurrentIdentity(ctx, raw)
	assertCode(t, err, domain.ErrCodeUnavailable)
}

func TestCanceledContextAbandonsHashing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.SignUp(ctx, "late@x.com", "pw")
	assertCode(t, err, domain.ErrCodeUnavailable)
	if f.store.Len() != 0 {
		t.Fatal("abandoned sign-up must not leave a record behind")
	}
}

func TestConcurrentSignUpsWithSameEmail(t *testing.T) {
	const workers = 12
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.SignUp(context.Background(), "race@x.com", "pw")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.IsDomainError(err, domain.ErrCodeAlreadyExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", workers-1, successes, conflicts)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected a single stored identity, got %d", f.store.Len())
	}
}

func TestSignInRehashesOutdatedCost(t *testing.T) {
	store := memory.New()
	old := newFixtureWithStore(t, store, store, bcrypt.MinCost)
	ctx := context.Background()

	created, err := old.svc.SignUp(ctx, "cost@x.com", "pw")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	upgraded := newFixtureWithStore(t, store, store, bcrypt.MinCost+1)
	if _, err := upgraded.svc.SignIn(ctx, "cost@x.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	stored, _ := store.FindByID(ctx, created.ID)
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if cost != bcrypt.MinCost+1 {
		t.Fatalf("expected rehash to cost %d, got %d", bcrypt.MinCost+1, cost)
	}
	if _, err := upgraded.svc.SignIn(ctx, "cost@x.com", "pw"); err != nil {
		t.Fatalf("sign in after rehash: %v", err)
	}
}

func TestRecorderSeesOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.svc.SignUp(ctx, "m@x.com", "pw")
	_, _ = f.svc.SignUp(ctx, "m@x.com", "pw")
	_, _ = f.svc.SignIn(ctx, "m@x.com", "nope")

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if f.recorder.outcomes["sign_up/success"] != 1 || f.recorder.outcomes["sign_up/already_exists"] != 1 {
		t.Fatalf("unexpected sign-up outcomes: %v", f.recorder.outcomes)
	}
	if f.recorder.outcomes["sign_in/invalid_credentials"] != 1 {
		t.Fatalf("unexpected sign-in outcomes: %v", f.recorder.outcomes)
	}
	if f.recorder.hashes == 0 {
		t.Fatal("expected hash timings to be recorded")
	}
}
