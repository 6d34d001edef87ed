package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the minimum HMAC-SHA256 secret length.
const MinKeyBytes = 32

// Claims is the decoded, verified content of a session token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Codec signs and parses HS256 tokens with a single symmetric key.
type Codec struct {
	key    []byte
	issuer string
}

// NewCodec validates key length and builds a Codec. issuer may be empty.
func NewCodec(key []byte, issuer string) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k, issuer: strings.TrimSpace(issuer)}, nil
}

// Sign produces a compact JWS for c.
func (c *Codec) Sign(cl Claims) (string, error) {
	if strings.TrimSpace(cl.UserID) == "" {
		return "", errors.New("token.Sign: empty user id")
	}
	if !cl.ExpiresAt.After(cl.IssuedAt) {
		return "", errors.New("token.Sign: expiry must be after issuance")
	}

	wc := wireClaims{
		UserID: cl.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(cl.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cl.ExpiresAt),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("token.Sign: %w", err)
	}
	return s, nil
}

// Parse verifies signature and expiry at now. It is pure: no I/O, no shared state.
// Every error is a *VerifyError.
func (c *Codec) Parse(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, &VerifyError{Kind: KindMalformed, Err: errors.New("empty token")}
	}

	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var wc wireClaims
	_, err := p.ParseWithClaims(raw, &wc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.key, nil
	})
	if err != nil {
		return Claims{}, &VerifyError{Kind: classify(err), Err: err}
	}

	if strings.TrimSpace(wc.UserID) == "" {
		return Claims{}, &VerifyError{Kind: KindMalformed, Err: errors.New("missing userId claim")}
	}

	out := Claims{UserID: wc.UserID}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		out.ExpiresAt = wc.ExpiresAt.Time
	}
	return out, nil
}

// classify relies on jwt/v5 verifying the signature before claims, so a
// tampered expired token reports SignatureInvalid rather than Expired.
func classify(err error) Kind {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return KindMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return KindExpired
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return KindSignatureInvalid
	default:
		return KindMalformed
	}
}
