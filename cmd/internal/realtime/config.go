package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// maxFrameBytes caps a single inbound websocket frame.
	maxFrameBytes = 64 << 10

	// maxMessageChars bounds message text in runes, after trimming.
	maxMessageChars = 2000

	// maxJoinedChannels caps the rooms one connection may be in.
	maxJoinedChannels = 64
)

// Config is the websocket gateway policy. Fields are read with the TEAMSYNC_ prefix.
type Config struct {
	// AllowedOrigins is the Origin allowlist. "*" allows any origin.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`
	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool `env:"WS_ORIGIN_REQUIRED" envDefault:"true"`

	WriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout time.Duration `env:"WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	SendQueue       int           `env:"WS_SEND_QUEUE" envDefault:"256"`

	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`

	RateEvents int           `env:"WS_RATE_EVENTS" envDefault:"120"`
	RateWindow time.Duration `env:"WS_RATE_WINDOW" envDefault:"10s"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:    true,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueue:         wsDefaultSendQueueSize,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        120,
		RateWindow:        10 * time.Second,
	}
}

// LoadConfigFromEnv parses TEAMSYNC_WS_* variables over DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TEAMSYNC_"}); err != nil {
		return Config{}, fmt.Errorf("realtime: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive timings and normalizes the origin list.
func (c *Config) Validate() error {
	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins

	switch {
	case c.WriteTimeout <= 0, c.ReadIdleTimeout <= 0:
		return errors.New("realtime: websocket timeouts must be positive")
	case c.HeartbeatInterval <= 0, c.HeartbeatTimeout <= 0:
		return errors.New("realtime: heartbeat timings must be positive")
	case c.RateEvents <= 0, c.RateWindow <= 0:
		return errors.New("realtime: rate limit must be positive")
	}
	if c.SendQueue < wsMinSendQueueSize {
		c.SendQueue = wsMinSendQueueSize
	}
	return nil
}
