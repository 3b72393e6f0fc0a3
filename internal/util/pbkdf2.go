package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPBKDF2Iterations is the lowest iteration count accepted for
	// master key stretching.
	MinPBKDF2Iterations = 100_000
	// DefaultPBKDF2Iterations follows the OWASP 2023 recommendation for
	// PBKDF2-HMAC-SHA256.
	DefaultPBKDF2Iterations = 210_000
)

// DerivePBKDF2Key stretches secret into a 32-byte key with PBKDF2-HMAC-SHA256.
func DerivePBKDF2Key(secret string, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinPBKDF2Iterations {
		return nil, fmt.Errorf("pbkdf2 iterations must be at least %d, got %d", MinPBKDF2Iterations, iterations)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2 salt must not be empty")
	}
	return pbkdf2.Key([]byte(secret), salt, iterations, AESKeySize, sha256.New), nil
}
