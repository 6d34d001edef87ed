package session

import (
	"fmt"
	"strings"

	"teamsync/cmd/security/token"

	"github.com/caarlos0/env/v11"
)

// Config carries the process-wide signing secret. It is built once at startup and
// passed to NewManager; nothing in this package reads the environment on its own.
type Config struct {
	// Secret is the symmetric HS256 key. At least token.MinKeyBytes bytes.
	Secret string `env:"JWT_SECRET"`

	// Issuer is written to the "iss" claim. Verification does not require it,
	// so tokens minted before it was set keep working.
	Issuer string `env:"JWT_ISSUER" envDefault:"teamsync"`
}

// DefaultConfig returns a Config with no secret; callers must set one.
func DefaultConfig() Config {
	return Config{Issuer: "teamsync"}
}

// LoadConfigFromEnv reads TEAMSYNC_JWT_SECRET and TEAMSYNC_JWT_ISSUER.
// Returns an error wrapping ErrConfig when the secret is missing or too short.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TEAMSYNC_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the secret policy.
func (c Config) Validate() error {
	switch n := len(c.Secret); {
	case strings.TrimSpace(c.Secret) == "":
		return fmt.Errorf("%w: TEAMSYNC_JWT_SECRET is required", ErrConfig)
	case n < token.MinKeyBytes:
		return fmt.Errorf("%w: TEAMSYNC_JWT_SECRET must be at least %d bytes (got %d)", ErrConfig, token.MinKeyBytes, n)
	}
	return nil
}
