// Package crypto implements the credential CryptoService: authenticated
// encryption of stored secrets under a process-wide master key, hashing,
// HMAC signing and secure token generation.
//
// A Service holds no mutable state after construction. The master secret
// is stretched exactly once in New; callers share the returned *Service.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/panelgate/internal/util"
)

// ErrDecryption is returned for every decryption failure. It deliberately
// does not say whether the IV, tag, ciphertext or key was at fault.
var ErrDecryption = errors.New("unable to decrypt secret")

var (
	credentialsInfo = []byte("panelgate:credentials:v1")
	cookiesInfo     = []byte("panelgate:cookies:v1")
)

// EncryptedSecret is the persisted form of a credential. All fields are
// hex encoded. Tag is the 16-byte AES-GCM authentication tag and is never
// empty for values produced by Encrypt.
type EncryptedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// IsZero reports whether the secret carries no data at all.
func (e EncryptedSecret) IsZero() bool {
	return e.Ciphertext == "" && e.IV == "" && e.Tag == ""
}

// Service is the CryptoService. It is safe for concurrent use.
type Service struct {
	mu     sync.RWMutex
	encKey *memguard.Enclave
	macKey *memguard.Enclave
}

// New derives the encryption and cookie-signing keys from masterSecret.
func New(masterSecret string, opts ...Option) (*Service, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret must not be empty")
	}
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	root, err := options.derive(masterSecret)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(root)

	encKey, err := util.HKDF(root, nil, credentialsInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	macKey, err := util.HKDF(root, nil, cookiesInfo)
	if err != nil {
		util.WipeBytes(encKey)
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}

	return &Service{
		encKey: memguard.NewEnclave(encKey),
		macKey: memguard.NewEnclave(macKey),
	}, nil
}

// Destroy drops the key enclaves. The Service must not be used afterwards.
func (s *Service) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encKey = nil
	s.macKey = nil
}

var errDestroyed = errors.New("crypto service has been destroyed")

func (s *Service) openEncKey() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	e := s.encKey
	s.mu.RUnlock()
	if e == nil {
		return nil, errDestroyed
	}
	return e.Open()
}

func (s *Service) openMACKey() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	e := s.macKey
	s.mu.RUnlock()
	if e == nil {
		return nil, errDestroyed
	}
	return e.Open()
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV.
func (s *Service) Encrypt(plaintext string) (EncryptedSecret, error) {
	key, err := s.openEncKey()
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("opening encryption key: %w", err)
	}
	defer key.Destroy()

	sealed, err := util.SealAESGCM([]byte(plaintext), key.Bytes(), nil)
	if err != nil {
		return EncryptedSecret{}, err
	}
	return EncryptedSecret{
		Ciphertext: util.HexEncode(sealed.Ciphertext),
		IV:         util.HexEncode(sealed.Nonce),
		Tag:        util.HexEncode(sealed.Tag),
	}, nil
}

// Decrypt opens a value produced by Encrypt. Any failure yields ErrDecryption.
func (s *Service) Decrypt(secret EncryptedSecret) (string, error) {
	ciphertext, err := util.HexDecode(secret.Ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	iv, err := util.HexDecode(secret.IV)
	if err != nil {
		return "", ErrDecryption
	}
	tag, err := util.HexDecode(secret.Tag)
	if err != nil || len(tag) == 0 {
		return "", ErrDecryption
	}

	key, err := s.openEncKey()
	if err != nil {
		return "", ErrDecryption
	}
	defer key.Destroy()

	plaintext, err := util.OpenAESGCM(&util.GCMSealed{
		Nonce:      iv,
		Ciphertext: ciphertext,
		Tag:        tag,
	}, key.Bytes(), nil)
	if err != nil {
		return "", ErrDecryption
	}
	defer util.WipeBytes(plaintext)
	return string(plaintext), nil
}

// Hash returns the hex SHA-256 digest of data.
func (s *Service) Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether digest is the Hash of data.
func (s *Service) VerifyHash(data, digest string) bool {
	expected := s.Hash(data)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}

// Sign returns the hex HMAC-SHA256 of data keyed by secret.
func (s *Service) Sign(data, secret string) string {
	return hmacHex([]byte(secret), data)
}

// Verify checks signature against data and secret in constant time.
func (s *Service) Verify(data, signature, secret string) bool {
	return verifyHMAC([]byte(secret), data, signature)
}

// SignValue signs data with the service's derived cookie key.
func (s *Service) SignValue(data string) (string, error) {
	key, err := s.openMACKey()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()
	return hmacHex(key.Bytes(), data), nil
}

// VerifyValue checks a signature produced by SignValue.
func (s *Service) VerifyValue(data, signature string) bool {
	key, err := s.openMACKey()
	if err != nil {
		return false
	}
	defer key.Destroy()
	return verifyHMAC(key.Bytes(), data, signature)
}

// SecureToken returns n cryptographically random bytes as 2n hex characters.
func (s *Service) SecureToken(n int) (string, error) {
	return util.RandomHex(n)
}

func hmacHex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(key []byte, data, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(data))
	return hmac.Equal(mac.Sum(nil), got)
}
