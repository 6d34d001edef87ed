package session

import (
	"errors"
	"fmt"
	"time"

	"teamsync/cmd/security/token"
)

// TokenTTL is the fixed validity window of every session token.
const TokenTTL = 7 * 24 * time.Hour

// Issued is a freshly minted token and its expiry.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Manager is the Session Issuer/Verifier. It is safe for concurrent use.
type Manager struct {
	codec *token.Codec
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := token.NewCodec([]byte(cfg.Secret), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &Manager{codec: codec}, nil
}

// Issue mints a token for userID valid from now until now+TokenTTL.
func (m *Manager) Issue(userID string, now time.Time) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("session.Issue: empty user id")
	}
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(TokenTTL)

	s, err := m.codec.Sign(token.Claims{UserID: userID, IssuedAt: now, ExpiresAt: exp})
	if err != nil {
		return Issued{}, fmt.Errorf("session.Issue: %w", err)
	}
	return Issued{Token: s, ExpiresAt: exp}, nil
}

// Verify checks raw against the wall clock value now. Failures are
// *token.VerifyError; use token.KindOf to tell Malformed, Expired and
// SignatureInvalid apart.
func (m *Manager) Verify(raw string, now time.Time) (token.Claims, error) {
	return m.codec.Parse(raw, now)
}
