package authapi

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls auth API limits. Fields are read with the TEAMSYNC_ prefix.
type Config struct {
	TrustProxy   bool  `env:"TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"AUTH_MAX_BODY_BYTES" envDefault:"65536"`

	// LoginMaxAttempts signup/login requests are allowed per client IP per LoginWindow.
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW" envDefault:"5m"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     64 << 10,
		LoginMaxAttempts: 10,
		LoginWindow:      5 * time.Minute,
	}
}

// LoadConfigFromEnv parses TEAMSYNC_* variables over DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TEAMSYNC_"}); err != nil {
		return Config{}, fmt.Errorf("authapi: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("authapi: TEAMSYNC_AUTH_MAX_BODY_BYTES must be positive")
	case c.LoginMaxAttempts <= 0:
		return fmt.Errorf("authapi: TEAMSYNC_LOGIN_MAX_ATTEMPTS must be positive")
	case c.LoginWindow <= 0:
		return fmt.Errorf("authapi: TEAMSYNC_LOGIN_WINDOW must be positive")
	}
	return nil
}
