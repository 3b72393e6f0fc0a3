// Package totp implements RFC 6238 time-based one-time passwords as used
// by authenticator apps (HMAC-SHA1, 6 digits, 30 second period).
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/panelgate/internal/util"
)

const (
	SecretBytes = 20
	Digits      = 6
	Period      = 30
	// Window is the accepted clock drift in periods on either side of now.
	Window = 1
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a new random base32 (unpadded) shared secret.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(SecretBytes)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// NormalizeCode folds full-width digits and strips whitespace.
func NormalizeCode(code string) string {
	code = util.NormalizeCompat(code)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(code))
}

// ValidCode reports whether code is exactly Digits ASCII digits.
func ValidCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Verify checks code against secret at now, allowing Window periods of drift.
func Verify(secret, code string, now time.Time) bool {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return false
	}
	matched := 0
	for i := -Window; i <= Window; i++ {
		at := now.Add(time.Duration(i*Period) * time.Second)
		expected, err := CodeAt(secret, at)
		if err != nil {
			return false
		}
		matched |= subtle.ConstantTimeCompare([]byte(expected), []byte(code))
	}
	return matched == 1
}

// CodeAt computes the code for secret in the period containing at.
func CodeAt(secret string, at time.Time) (string, error) {
	decoded, err := encoding.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return "", fmt.Errorf("decoding totp secret: %w", err)
	}

	counter := uint64(at.Unix() / Period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, decoded)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	otp := binCode % 1000000
	return fmt.Sprintf("%06d", otp), nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps scan.
func ProvisioningURI(secret, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	values.Set("period", strconv.Itoa(Period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}
