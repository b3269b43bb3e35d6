package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testArgon2idParams() Argon2idParams {
	return Argon2idParams{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T, algorithm Algorithm) *Hasher {
	t.Helper()
	h, err := New(Config{Algorithm: algorithm, BcryptCost: bcrypt.MinCost, Argon2id: testArgon2idParams()})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	passwords := []string{
		"p1",
		"correct horse battery staple",
		"пароль-ünïcödé",
		strings.Repeat("x", 72),
		strings.Repeat("y", 73),
		strings.Repeat("z", MaxPasswordBytes),
	}

	for _, algorithm := range []Algorithm{AlgorithmBcrypt, AlgorithmArgon2id} {
		h := newTestHasher(t, algorithm)
		for _, plaintext := range passwords {
			encoded, err := h.Hash(plaintext)
			if err != nil {
				t.Fatalf("%s: hash %d bytes: %v", algorithm, len(plaintext), err)
			}
			if encoded == plaintext || strings.Contains(encoded, plaintext) {
				t.Fatalf("%s: hash leaks plaintext", algorithm)
			}
			if !h.Verify(plaintext, encoded) {
				t.Fatalf("%s: verify failed for %d-byte password", algorithm, len(plaintext))
			}
			if h.Verify(plaintext+"!", encoded) {
				t.Fatalf("%s: verify accepted a different password", algorithm)
			}
		}
	}
}

func TestLongPasswordsDifferBeyondBcryptLimit(t *testing.T) {
	h := newTestHasher(t, AlgorithmBcrypt)
	prefix := strings.Repeat("a", 80)

	encoded, err := h.Hash(prefix + "1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h.Verify(prefix+"2", encoded) {
		t.Fatal("passwords differing after byte 72 must not verify")
	}
}

func TestHashIsSalted(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmBcrypt, AlgorithmArgon2id} {
		h := newTestHasher(t, algorithm)
		a, _ := h.Hash("same")
		b, _ := h.Hash("same")
		if a == b {
			t.Fatalf("%s: identical hashes for identical input", algorithm)
		}
	}
}

func TestHashRejectsEmptyAndOversized(t *testing.T) {
	h := newTestHasher(t, AlgorithmBcrypt)
	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	h := newTestHasher(t, AlgorithmArgon2id)
	garbage := []string{
		"",
		"plaintext",
		"$2a$",
		"$2b$04$short",
		"$argon2id$",
		"$argon2id$v=18$m=64,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=64,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=999999999,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for _, encoded := range garbage {
		if h.Verify("anything", encoded) {
			t.Fatalf("verify accepted malformed hash %q", encoded)
		}
	}
	if h.Verify("", "$2a$04$abcdefghijklmnopqrstuu") {
		t.Fatal("empty plaintext must never verify")
	}
}

func TestVerifyAcrossAlgorithms(t *testing.T) {
	bcryptHasher := newTestHasher(t, AlgorithmBcrypt)
	argonHasher := newTestHasher(t, AlgorithmArgon2id)

	legacy, err := bcryptHasher.Hash("migrate-me")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !argonHasher.Verify("migrate-me", legacy) {
		t.Fatal("argon2id hasher must still verify bcrypt hashes")
	}
	if !argonHasher.NeedsRehash(legacy) {
		t.Fatal("bcrypt hash should need rehash under argon2id config")
	}
}

func TestNeedsRehash(t *testing.T) {
	h := newTestHasher(t, AlgorithmBcrypt)
	current, _ := h.Hash("pw")
	if h.NeedsRehash(current) {
		t.Fatal("hash at configured cost should not need rehash")
	}

	stronger, err := New(Config{Algorithm: AlgorithmBcrypt, BcryptCost: bcrypt.MinCost + 1, Argon2id: testArgon2idParams()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !stronger.NeedsRehash(current) {
		t.Fatal("cost change should require rehash")
	}

	argon := newTestHasher(t, AlgorithmArgon2id)
	encoded, _ := argon.Hash("pw")
	if argon.NeedsRehash(encoded) {
		t.Fatal("argon2id hash with current params should not need rehash")
	}
	if !argon.NeedsRehash("garbage") {
		t.Fatal("unparseable hash should need rehash")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown algorithm", cfg: Config{Algorithm: "md5"}},
		{name: "cost too low", cfg: Config{BcryptCost: bcrypt.MinCost - 1}},
		{name: "cost too high", cfg: Config{BcryptCost: bcrypt.MaxCost + 1}},
		{name: "zero argon iterations", cfg: Config{Argon2id: Argon2idParams{MemoryKiB: 64, Parallelism: 1, SaltLength: 16, KeyLength: 32}}},
		{name: "short salt", cfg: Config{Argon2id: Argon2idParams{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 4, KeyLength: 32}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	h, err := New(Config{})
	if err != nil {
		t.Fatalf("zero config should fall back to defaults: %v", err)
	}
	if h.Algorithm() != AlgorithmBcrypt {
		t.Fatalf("unexpected default algorithm %s", h.Algorithm())
	}
}
