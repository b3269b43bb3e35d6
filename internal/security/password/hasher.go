// Package password hashes and verifies account passwords.
//
// New hashes use the configured algorithm. Verification recognizes both bcrypt and
// argon2id encodings, so stored hashes keep working after the algorithm or its cost changes.
package password

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes bounds the plaintext accepted by Hash and Verify.
const MaxPasswordBytes = 1024

type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Config selects the algorithm and work factor for new hashes.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2id   Argon2idParams
}

// DefaultConfig returns bcrypt at cost 12 with argon2id parameters ready for a switch.
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: 12,
		Argon2id:   DefaultArgon2idParams(),
	}
}

// Hasher is safe for concurrent use; it holds no mutable state.
type Hasher struct {
	cfg Config
}

// New validates cfg and builds a Hasher.
func New(cfg Config) (*Hasher, error) {
	switch cfg.Algorithm {
	case "":
		cfg.Algorithm = AlgorithmBcrypt
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, cfg.Algorithm)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultConfig().BcryptCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d outside [%d, %d]", ErrInvalidConfig, cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.Argon2id == (Argon2idParams{}) {
		cfg.Argon2id = DefaultArgon2idParams()
	}
	if err := cfg.Argon2id.validate(); err != nil {
		return nil, err
	}
	return &Hasher{cfg: cfg}, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm {
	return h.cfg.Algorithm
}

// Hash returns a salted one-way encoding of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := checkLength(plaintext); err != nil {
		return "", err
	}
	if h.cfg.Algorithm == AlgorithmArgon2id {
		return hashArgon2id(plaintext, h.cfg.Argon2id)
	}
	return hashBcrypt(plaintext, h.cfg.BcryptCost)
}

// Verify reports whether plaintext produced encoded. Unknown or malformed encodings yield false.
func (h *Hasher) Verify(plaintext, encoded string) bool {
	if checkLength(plaintext) != nil {
		return false
	}
	switch {
	case isBcrypt(encoded):
		return verifyBcrypt(plaintext, encoded)
	case isArgon2id(encoded):
		return verifyArgon2id(plaintext, encoded, h.cfg.Argon2id)
	default:
		return false
	}
}

// NeedsRehash reports whether encoded was produced with a different algorithm or work factor
// than the current configuration.
func (h *Hasher) NeedsRehash(encoded string) bool {
	switch h.cfg.Algorithm {
	case AlgorithmArgon2id:
		params, _, _, err := decodeArgon2id(encoded)
		if err != nil {
			return true
		}
		return params != h.cfg.Argon2id
	default:
		if !isBcrypt(encoded) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(encoded))
		return err != nil || cost != h.cfg.BcryptCost
	}
}

func checkLength(plaintext string) error {
	if plaintext == "" {
		return ErrEmptyPassword
	}
	if len(plaintext) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func isArgon2id(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}
