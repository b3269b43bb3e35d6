package password

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxInput is the number of bytes bcrypt reads from its input.
const bcryptMaxInput = 72

// bcryptInput pre-hashes long passwords so every byte counts.
// The digest is base64 encoded because bcrypt stops at NUL bytes.
func bcryptInput(plaintext string) []byte {
	if len(plaintext) <= bcryptMaxInput {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func hashBcrypt(plaintext string, cost int) (string, error) {
	out, err := bcrypt.GenerateFromPassword(bcryptInput(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func verifyBcrypt(plaintext, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), bcryptInput(plaintext)) == nil
}
