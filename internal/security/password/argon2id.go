package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams controls Argon2id cost. MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams uses 64 MiB and 3 passes, with parallelism clamped to [1..4].
func DefaultArgon2idParams() Argon2idParams {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}
	return Argon2idParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: uint8(threads),
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2idParams) validate() error {
	if p.MemoryKiB < 8*uint32(p.Parallelism) || p.Iterations == 0 || p.Parallelism == 0 {
		return fmt.Errorf("%w: argon2id memory, iterations and parallelism must be positive", ErrInvalidConfig)
	}
	if p.SaltLength < 8 || p.SaltLength > 64 || p.KeyLength < 16 || p.KeyLength > 128 {
		return fmt.Errorf("%w: argon2id salt or key length out of range", ErrInvalidConfig)
	}
	return nil
}

// hashArgon2id encodes as $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>.
func hashArgon2id(plaintext string, p Argon2idParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func verifyArgon2id(plaintext, encoded string, limits Argon2idParams) bool {
	params, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	// Stored parameters come from the database; refuse anything far above what we would issue.
	if params.MemoryKiB > limits.MemoryKiB*2 || params.Iterations > limits.Iterations*2 || uint32(params.Parallelism) > uint32(limits.Parallelism)*2 {
		return false
	}

	key := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, expected) == 1
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}
	return params, salt, key, nil
}
