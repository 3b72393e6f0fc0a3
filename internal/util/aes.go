package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
	GCMTagSize   = 16
)

// GCMSealed holds the detached parts of an AES-256-GCM encryption.
type GCMSealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealAESGCM encrypts plainText under a fresh random nonce and returns the
// nonce, ciphertext and authentication tag separately.
func SealAESGCM(plainText, rawKey, aad []byte) (*GCMSealed, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, GCMNonceSize)
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plainText, aad)
	split := len(sealed) - GCMTagSize
	return &GCMSealed{
		Nonce:      nonce,
		Ciphertext: CopyBytes(sealed[:split]),
		Tag:        CopyBytes(sealed[split:]),
	}, nil
}

// OpenAESGCM reverses SealAESGCM. It fails if any of nonce, ciphertext,
// tag, key or aad differ from what was used to seal.
func OpenAESGCM(sealed *GCMSealed, rawKey, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != GCMNonceSize {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(sealed.Nonce), GCMNonceSize)
	}
	if len(sealed.Tag) != GCMTagSize {
		return nil, fmt.Errorf("invalid tag size: got %d, want %d", len(sealed.Tag), GCMTagSize)
	}

	full := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.Tag))
	full = append(full, sealed.Ciphertext...)
	full = append(full, sealed.Tag...)

	plainText, err := gcm.Open(nil, sealed.Nonce, full, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func NewAESKey() ([]byte, error) {
	rawKey := make([]byte, AESKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
