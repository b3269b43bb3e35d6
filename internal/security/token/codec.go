// Package token issues and verifies signed, time-bounded bearer tokens (JWT, HMAC family).
package token

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Registered claim names managed by the codec.
const (
	ClaimSubject   = "sub"
	ClaimEmail     = "email"
	ClaimExpiresAt = "exp"
	ClaimIssuedAt  = "iat"
	ClaimID        = "jti"
	ClaimIssuer    = "iss"
)

const minSecretLength = 16

// Claims is the verified payload of a token.
type Claims map[string]interface{}

// Subject returns the "sub" claim or "" when absent or not a string.
func (c Claims) Subject() string {
	sub, _ := c[ClaimSubject].(string)
	return sub
}

// ExpiresAt returns the "exp" claim as a time.
func (c Claims) ExpiresAt() time.Time {
	exp, ok := numericClaim(c[ClaimExpiresAt])
	if !ok {
		return time.Time{}
	}
	return time.Unix(exp, 0)
}

// Config is loaded once at startup and handed to NewCodec.
type Config struct {
	Secret    []byte
	Algorithm string
	Issuer    string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies tokens with a fixed algorithm and key. It never changes after
// construction, so it is safe for concurrent use.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	issuer string
	now    func() time.Time
}

// NewCodec validates cfg and builds a Codec. Only HS256, HS384 and HS512 are accepted.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, minSecretLength)
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, alg)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret: append([]byte(nil), cfg.Secret...),
		method: method,
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Algorithm returns the configured signing algorithm name.
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Issue signs claims with exp = now + ttl. exp, iat, jti and iss are always set by the codec.
func (c *Codec) Issue(claims map[string]interface{}, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := c.now()
	expiresAt := now.Add(ttl).Truncate(time.Second)

	payload := jwt.MapClaims{}
	for k, v := range claims {
		payload[k] = v
	}
	payload[ClaimExpiresAt] = expiresAt.Unix()
	payload[ClaimIssuedAt] = now.Unix()
	payload[ClaimID] = uuid.NewString()
	if c.issuer != "" {
		payload[ClaimIssuer] = c.issuer
	} else {
		delete(payload, ClaimIssuer)
	}

	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks the signature before looking at any claim, then enforces expiry
// against the codec clock. A token is expired once now reaches exp.
//
// The signature covers everything before the last separator, so an altered or extra
// separator inside the token fails as ErrInvalidSignature. Only input without the two
// separators of a signed token is ErrMalformed before the signature check.
func (c *Codec) Verify(raw string) (Claims, error) {
	cut := strings.LastIndexByte(raw, '.')
	if cut < 0 {
		return nil, ErrMalformed
	}
	signingString, signature := raw[:cut], raw[cut+1:]
	if !strings.Contains(signingString, ".") {
		return nil, ErrMalformed
	}

	if err := c.method.Verify(signingString, signature, c.secret); err != nil {
		return nil, ErrInvalidSignature
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	mapClaims := jwt.MapClaims{}
	parsed, _, err := parser.ParseUnverified(raw, mapClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if parsed.Method == nil || parsed.Method.Alg() != c.method.Alg() {
		return nil, ErrInvalidSignature
	}

	exp, ok := numericClaim(mapClaims[ClaimExpiresAt])
	if !ok {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}
	if !c.now().Before(time.Unix(exp, 0)) {
		return nil, ErrExpired
	}
	if c.issuer != "" {
		if iss, _ := mapClaims[ClaimIssuer].(string); iss != c.issuer {
			return nil, fmt.Errorf("%w: unexpected issuer", ErrMalformed)
		}
	}

	return Claims(mapClaims), nil
}

func numericClaim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
