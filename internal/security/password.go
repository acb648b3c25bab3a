package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordIterations is the PBKDF2 work factor.
	PasswordIterations = 100_000
	saltLength         = 32
	keyLength          = 32
)

// PasswordHasher derives salted PBKDF2-HMAC-SHA256 password hashes.
type PasswordHasher struct {
	iterations int
}

// NewPasswordHasher returns a hasher using the default work factor.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{iterations: PasswordIterations}
}

// Hash returns the base64 encoded derived key and salt for password.
func (h *PasswordHasher) Hash(password string) (string, string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := h.derive(password, salt)
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(salt), nil
}

// Verify recomputes the key with the stored salt and compares it in constant
// time. Undecodable input is a mismatch; the KDF still runs so both paths cost
// the same.
func (h *PasswordHasher) Verify(password, hash, salt string) bool {
	saltBytes, saltErr := base64.StdEncoding.DecodeString(salt)
	expected, hashErr := base64.StdEncoding.DecodeString(hash)
	if saltErr != nil || len(saltBytes) == 0 {
		saltBytes = make([]byte, saltLength)
	}

	computed := h.derive(password, saltBytes)
	if saltErr != nil || hashErr != nil || len(expected) != keyLength {
		return false
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (h *PasswordHasher) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations, keyLength, sha256.New)
}
