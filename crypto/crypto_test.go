package crypto

import (
	"encoding/hex"
	"errors"
	"testing"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	s, err := New(secret, WithIterations(100_000), WithSalt([]byte("test-salt")))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestService(t, "master-secret")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"Empty", ""},
		{"ASCII", "abc123"},
		{"Unicode", "пароль-密码-🔑"},
		{"Special", "!@#$%^&*()_+-={}[]|\\:\";'<>?,./\n\t"},
		{"Long", string(make([]byte, 4096))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := s.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if enc.Tag == "" {
				t.Fatal("expected non-empty authentication tag")
			}
			got, err := s.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("expected %q, got %q", tt.plaintext, got)
			}
		})
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	s := newTestService(t, "master-secret")
	a, _ := s.Encrypt("same")
	b, _ := s.Encrypt("same")
	if a.IV == b.IV {
		t.Error("expected distinct IVs")
	}
	if a.Ciphertext == b.Ciphertext && a.Tag == b.Tag {
		t.Error("expected distinct ciphertexts")
	}
}

func flipByte(t *testing.T, h string, i int) string {
	t.Helper()
	b, err := hex.DecodeString(h)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	b[i] ^= 0x01
	return hex.EncodeToString(b)
}

func TestDecryptDetectsTamper(t *testing.T) {
	s := newTestService(t, "master-secret")
	enc, err := s.Encrypt("api-key-value")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	fields := map[string]func(EncryptedSecret, string) EncryptedSecret{
		"Ciphertext": func(e EncryptedSecret, v string) EncryptedSecret { e.Ciphertext = v; return e },
		"IV":         func(e EncryptedSecret, v string) EncryptedSecret { e.IV = v; return e },
		"Tag":        func(e EncryptedSecret, v string) EncryptedSecret { e.Tag = v; return e },
	}
	originals := map[string]string{
		"Ciphertext": enc.Ciphertext,
		"IV":         enc.IV,
		"Tag":        enc.Tag,
	}

	for name, set := range fields {
		t.Run(name, func(t *testing.T) {
			orig := originals[name]
			for i := 0; i < len(orig)/2; i++ {
				tampered := set(enc, flipByte(t, orig, i))
				_, err := s.Decrypt(tampered)
				if !errors.Is(err, ErrDecryption) {
					t.Fatalf("byte %d: expected ErrDecryption, got %v", i, err)
				}
			}
		})
	}

	t.Run("EmptyTag", func(t *testing.T) {
		e := enc
		e.Tag = ""
		if _, err := s.Decrypt(e); !errors.Is(err, ErrDecryption) {
			t.Fatalf("expected ErrDecryption, got %v", err)
		}
	})

	t.Run("BadHex", func(t *testing.T) {
		e := enc
		e.IV = "zz"
		if _, err := s.Decrypt(e); !errors.Is(err, ErrDecryption) {
			t.Fatalf("expected ErrDecryption, got %v", err)
		}
	})
}

func TestDecryptWithWrongKey(t *testing.T) {
	a := newTestService(t, "master-a")
	b := newTestService(t, "master-b")
	enc, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(enc); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestSameSecretSameKeys(t *testing.T) {
	a := newTestService(t, "master")
	b := newTestService(t, "master")
	enc, _ := a.Encrypt("shared")
	got, err := b.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "shared" {
		t.Errorf("expected %q, got %q", "shared", got)
	}
}

func TestHash(t *testing.T) {
	s := newTestService(t, "master")
	if s.Hash("x") != s.Hash("x") {
		t.Error("expected deterministic hash")
	}
	if s.Hash("x") == s.Hash("y") {
		t.Error("expected different hashes for different input")
	}
	if !s.VerifyHash("x", s.Hash("x")) {
		t.Error("expected VerifyHash to succeed")
	}
	if s.VerifyHash("y", s.Hash("x")) {
		t.Error("expected VerifyHash to fail for different data")
	}
}

func TestSignVerify(t *testing.T) {
	s := newTestService(t, "master")
	sig := s.Sign("data", "secret")
	if !s.Verify("data", sig, "secret") {
		t.Fatal("expected signature to verify")
	}
	if s.Verify("other", sig, "secret") {
		t.Error("expected verify to fail for different data")
	}
	if s.Verify("data", sig, "other-secret") {
		t.Error("expected verify to fail for different secret")
	}
	if s.Verify("data", flipByte(t, sig, 0), "secret") {
		t.Error("expected verify to fail for different signature")
	}
	if s.Verify("data", "not-hex", "secret") {
		t.Error("expected verify to fail for malformed signature")
	}
}

func TestSignValue(t *testing.T) {
	s := newTestService(t, "master")
	sig, err := s.SignValue("cookie-value")
	if err != nil {
		t.Fatalf("SignValue failed: %v", err)
	}
	if !s.VerifyValue("cookie-value", sig) {
		t.Error("expected VerifyValue to succeed")
	}
	other := newTestService(t, "other-master")
	if other.VerifyValue("cookie-value", sig) {
		t.Error("expected VerifyValue to fail under a different master key")
	}
}

func TestSecureToken(t *testing.T) {
	s := newTestService(t, "master")
	tok, err := s.SecureToken(24)
	if err != nil {
		t.Fatalf("SecureToken failed: %v", err)
	}
	if len(tok) != 48 {
		t.Errorf("expected 48 chars, got %d", len(tok))
	}
	if _, err := hex.DecodeString(tok); err != nil {
		t.Errorf("expected hex token: %v", err)
	}
	tok2, _ := s.SecureToken(24)
	if tok == tok2 {
		t.Error("expected unique tokens")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty master secret")
	}
	if _, err := New("m", WithIterations(10)); err == nil {
		t.Error("expected error for low iteration count")
	}
	if _, err := New("m", WithKDF("md5")); err == nil {
		t.Error("expected error for unknown kdf")
	}
}

func TestArgon2idKDF(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32}
	s, err := New("master", WithArgon2id(params))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Destroy()
	enc, _ := s.Encrypt("v")
	got, err := s.Decrypt(enc)
	if err != nil || got != "v" {
		t.Fatalf("round trip failed: %q %v", got, err)
	}
}

func TestDestroyedService(t *testing.T) {
	s, err := New("master", WithIterations(100_000))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	enc, _ := s.Encrypt("v")
	s.Destroy()
	if _, err := s.Decrypt(enc); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption after destroy, got %v", err)
	}
	if _, err := s.Encrypt("v"); err == nil {
		t.Fatal("expected error encrypting after destroy")
	}
}
