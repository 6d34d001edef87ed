// Package invite generates and checks workspace invite codes.
//
// A code is an opaque, URL-safe random string. It is stored as-is on the
// workspace (unique, optional) and rotated by generating a new one.
package invite

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

// DefaultCodeBytes yields 16-character codes (96 bits of entropy).
const DefaultCodeBytes = 12

const (
	minCodeLen = 8
	maxCodeLen = 64
)

// ErrInvalidCode is returned for codes that could never have been generated.
var ErrInvalidCode = errors.New("invalid invite code")

// NewCode returns a fresh random code of nBytes entropy (DefaultCodeBytes if <= 0).
func NewCode(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultCodeBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Normalize trims surrounding whitespace and rejects anything outside the
// URL-safe base64 alphabet, so lookups never see arbitrary user input.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", ErrInvalidCode
		}
	}
	return code, nil
}
