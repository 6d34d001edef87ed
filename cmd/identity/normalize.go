package identity

import (
	"regexp"
	"strings"
)

// emailRe matches the historical signup rule: something@something.tld, no spaces.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const maxEmailLen = 254

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName trims surrounding whitespace from a display name.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}

// ValidEmail reports whether a normalized email is acceptable.
func ValidEmail(norm string) bool {
	return norm != "" && len(norm) <= maxEmailLen && emailRe.MatchString(norm)
}
