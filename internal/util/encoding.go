package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCompat folds compatibility characters (full-width digits,
// ligatures) into their canonical ASCII-friendly forms.
func NormalizeCompat(s string) string {
	return norm.NFKC.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
