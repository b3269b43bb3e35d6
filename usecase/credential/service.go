package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/internal/security/password"
	"github.com/fastygo/identity/internal/security/token"
	"github.com/fastygo/identity/pkg/ids"
	"github.com/fastygo/identity/pkg/logger"
	"github.com/fastygo/identity/repository"
)

// Operation names used for logging and metrics.
const (
	OpSignUp          = "sign_up"
	OpSignIn          = "sign_in"
	OpResetPassword   = "reset_password"
	OpChangePassword  = "change_password"
	OpResolveIdentity = "resolve_identity"
)

const dummyPassword = "timing-equalizer"

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
	NeedsRehash(encoded string) bool
}

type TokenCodec interface {
	Issue(claims map[string]interface{}, ttl time.Duration) (string, time.Time, error)
	Verify(raw string) (token.Claims, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, identifier string) (*domain.Identity, error)
}

// Recorder receives operation outcomes and hash timings.
type Recorder interface {
	ObserveOperation(operation, outcome string)
	ObserveHash(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObserveHash(time.Duration)       {}

// Config carries the tunables of the service.
type Config struct {
	TokenTTL        time.Duration
	HashConcurrency int
	NewID           ids.Generator
	Now             func() time.Time
	Recorder        Recorder
}

// AccessGrant is returned by a successful sign-in.
type AccessGrant struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	IdentityID  string    `json:"user_id"`
}

// Service orchestrates sign-up, sign-in, password reset/change and token resolution.
// It holds no locks; email uniqueness is the store's job.
type Service struct {
	store    repository.IdentityRepository
	resolver IdentityResolver
	hasher   PasswordHasher
	tokens   TokenCodec
	workers  *workerPool
	ttl      time.Duration
	newID    ids.Generator
	now      func() time.Time
	recorder Recorder
	logger   *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

func New(store repository.IdentityRepository, resolver IdentityResolver, hasher PasswordHasher, tokens TokenCodec, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	if cfg.NewID == nil {
		cfg.NewID = ids.UUID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Service{
		store:    store,
		resolver: resolver,
		hasher:   hasher,
		tokens:   tokens,
		workers:  newWorkerPool(cfg.HashConcurrency),
		ttl:      cfg.TokenTTL,
		newID:    cfg.NewID,
		now:      cfg.Now,
		recorder: cfg.Recorder,
		logger:   logger,
	}
}

// TokenTTL reports the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

// SignUp creates an active identity. The returned record carries no hash.
func (s *Service) SignUp(ctx context.Context, email, plaintext string) (_ *domain.Identity, err error) {
	defer s.observe(OpSignUp, &err)
	log := logger.WithRequestID(ctx, s.logger)

	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if plaintext == "" {
		return nil, domain.ErrInvalidPassword
	}

	exists, err := s.store.Exists(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrIdentityExists
	}

	hash, err := s.hash(ctx, plaintext)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Insert(ctx, &domain.Identity{
		ID:           s.newID(),
		Email:        normalized,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeAlreadyExists) {
			log.Info("concurrent sign-up rejected by store", zap.String("email", normalized))
		}
		return nil, err
	}

	log.Info("identity created", zap.String("identity_id", stored.ID))
	return stored.Public(), nil
}

// SignIn authenticates by email and password. Unknown email, wrong password and
// inactive account all return domain.ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, plaintext string) (_ *AccessGrant, err error) {
	defer s.observe(OpSignIn, &err)
	log := logger.WithRequestID(ctx, s.logger)

	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, s.rejectSignIn(ctx, log, plaintext, "invalid_email")
	}

	identity, err := s.resolver.Resolve(ctx, normalized)
	if domain.IsDomainError(err, domain.ErrCodeNotFound) {
		return nil, s.rejectSignIn(ctx, log, plaintext, "not_found")
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.verify(ctx, plaintext, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("sign-in rejected", zap.String("reason", "password_mismatch"))
		return nil, domain.ErrInvalidCredentials
	}
	if !identity.IsActive() {
		log.Debug("sign-in rejected", zap.String("reason", "inactive"))
		return nil, domain.ErrInvalidCredentials
	}

	s.rehashIfNeeded(ctx, log, identity, plaintext)

	raw, expiresAt, err := s.tokens.Issue(map[string]interface{}{
		token.ClaimSubject: identity.ID,
		token.ClaimEmail:   identity.Email,
	}, s.ttl)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "issue token", err)
	}

	return &AccessGrant{
		AccessToken: raw,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.ttl / time.Second),
		ExpiresAt:   expiresAt.UTC(),
		IdentityID:  identity.ID,
	}, nil
}

// ResetPassword replaces the hash of the identity owning email without re-authentication.
// Unlike SignIn it reports domain.ErrIdentityNotFound for unknown emails.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) (err error) {
	defer s.observe(OpResetPassword, &err)
	log := logger.WithRequestID(ctx, s.logger)

	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if newPassword == "" {
		return domain.ErrInvalidPassword
	}

	identity, err := s.resolver.Resolve(ctx, normalized)
	if err != nil {
		return err
	}

	hash, err := s.hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.replaceHash(ctx, identity.Email, hash); err != nil {
		return err
	}

	log.Info("password reset without re-authentication", zap.String("identity_id", identity.ID))
	return nil
}

// ChangePassword replaces the hash of an already authenticated identity after checking oldPassword.
func (s *Service) ChangePassword(ctx context.Context, current *domain.Identity, oldPassword, newPassword string) (err error) {
	defer s.observe(OpChangePassword, &err)
	log := logger.WithRequestID(ctx, s.logger)

	if current == nil || current.ID == "" {
		return domain.ErrUnauthenticated
	}
	if newPassword == "" {
		return domain.ErrInvalidPassword
	}

	ok, err := s.verify(ctx, oldPassword, current.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidCredentials
	}

	hash, err := s.hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.replaceHash(ctx, current.ID, hash); err != nil {
		return err
	}

	log.Info("password changed", zap.String("identity_id", current.ID))
	return nil
}

// ResolveCurrentIdentity verifies a bearer token and loads its subject.
func (s *Service) ResolveCurrentIdentity(ctx context.Context, rawToken string) (_ *domain.Identity, err error) {
	defer s.observe(OpResolveIdentity, &err)
	log := logger.WithRequestID(ctx, s.logger)

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.ErrUnauthenticated
	}

	claims, err := s.tokens.Verify(rawToken)
	if err != nil {
		log.Debug("token rejected", zap.Error(err))
		return nil, domain.WrapError(domain.ErrCodeUnauthenticated, domain.ErrUnauthenticated.Message, err)
	}

	subject := claims.Subject()
	if subject == "" {
		return nil, domain.ErrUnauthenticated
	}

	identity, err := s.resolver.Resolve(ctx, subject)
	if domain.IsDomainError(err, domain.ErrCodeNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if !identity.IsActive() {
		return nil, domain.ErrInactiveIdentity
	}
	return identity, nil
}

func (s *Service) rejectSignIn(ctx context.Context, log *zap.Logger, plaintext, reason string) error {
	// Spend one verify so unknown emails cost as much as known ones.
	if dummy := s.dummy(); dummy != "" {
		_, _ = s.verify(ctx, plaintext, dummy)
	}
	log.Debug("sign-in rejected", zap.String("reason", reason))
	return domain.ErrInvalidCredentials
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("timing equalizer hash unavailable", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Service) rehashIfNeeded(ctx context.Context, log *zap.Logger, identity *domain.Identity, plaintext string) {
	if !s.hasher.NeedsRehash(identity.PasswordHash) {
		return
	}
	hash, err := s.hash(ctx, plaintext)
	if err == nil {
		_, err = s.store.ReplacePasswordHash(ctx, identity.ID, hash)
	}
	if err != nil {
		log.Warn("password rehash failed", zap.String("identity_id", identity.ID), zap.Error(err))
		return
	}
	identity.PasswordHash = hash
	log.Info("password rehashed", zap.String("identity_id", identity.ID))
}

func (s *Service) replaceHash(ctx context.Context, idOrEmail, hash string) error {
	n, err := s.store.ReplacePasswordHash(ctx, idOrEmail, hash)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func (s *Service) hash(ctx context.Context, plaintext string) (string, error) {
	var (
		encoded string
		hashErr error
	)
	start := time.Now()
	if err := s.workers.do(ctx, func() {
		encoded, hashErr = s.hasher.Hash(plaintext)
	}); err != nil {
		return "", domain.Unavailable("hash password", err)
	}
	s.recorder.ObserveHash(time.Since(start))

	switch {
	case hashErr == nil:
		return encoded, nil
	case errors.Is(hashErr, password.ErrEmptyPassword), errors.Is(hashErr, password.ErrPasswordTooLong):
		return "", domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPassword.Message, hashErr)
	default:
		return "", domain.WrapError(domain.ErrCodeInternal, "hash password", hashErr)
	}
}

func (s *Service) verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	var ok bool
	start := time.Now()
	if err := s.workers.do(ctx, func() {
		ok = s.hasher.Verify(plaintext, encoded)
	}); err != nil {
		return false, domain.Unavailable("verify password", err)
	}
	s.recorder.ObserveHash(time.Since(start))
	return ok, nil
}

func (s *Service) observe(operation string, errp *error) {
	outcome := "success"
	if errp != nil && *errp != nil {
		outcome = strings.ToLower(string(domain.CodeOf(*errp)))
	}
	s.recorder.ObserveOperation(operation, outcome)
}
