package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	authapi "teamsync/cmd/internal/auth/api"
	"teamsync/cmd/internal/auth/session"
	"teamsync/cmd/internal/realtime"
	"teamsync/cmd/security/password"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "TEAMSYNC_"

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is json or text.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// DatabaseURL selects Postgres stores; empty runs on in-memory stores.
	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA" envDefault:"teamsync"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	// AutoMigrate applies the embedded DDL at startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	Session  session.Config
	Password password.Config
	Auth     authapi.Config
	Realtime realtime.Config
}

// DefaultConfig returns the built-in defaults. Session.Secret is empty and must
// be supplied.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		DBSchema:          "teamsync",
		DBMaxConns:        10,
		Session:           session.DefaultConfig(),
		Password:          password.DefaultConfig(),
		Auth:              authapi.DefaultConfig(),
		Realtime:          realtime.DefaultConfig(),
	}
}

// LoadConfig parses TEAMSYNC_* variables over DefaultConfig and validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("app: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks process settings and delegates to each component.
func (c *Config) Validate() error {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)

	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "text":
	default:
		errs = append(errs, errors.New("app: TEAMSYNC_LOG_FORMAT must be json or text"))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("app: TEAMSYNC_HTTP_ADDR is required"))
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("app: HTTP timeouts must be positive"))
	}
	if c.MaxHeaderBytes <= 0 {
		errs = append(errs, errors.New("app: TEAMSYNC_HTTP_MAX_HEADER_BYTES must be positive"))
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, errors.New("app: DB pool bounds are invalid"))
	}
	if !schemaRe.MatchString(c.DBSchema) {
		errs = append(errs, errors.New("app: TEAMSYNC_DB_SCHEMA is not a valid identifier"))
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		errs = append(errs, errors.New("app: TEAMSYNC_READINESS_REQUIRE_DB needs TEAMSYNC_DATABASE_URL"))
	}

	errs = append(errs,
		c.Session.Validate(),
		c.Password.Check(),
		c.Auth.Validate(),
		c.Realtime.Validate(),
	)
	return errors.Join(errs...)
}
