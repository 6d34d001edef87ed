package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"MEMORY_KIB"`
	Iterations  uint32 `env:"ITERATIONS"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LEN"`
	KeyLength   uint32 `env:"KEY_LEN"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"MIN_LEN"`
	MaxLength int `env:"MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `envPrefix:"ARGON2_"`
	Policy Policy         `envPrefix:"PASSWORD_"`

	// Workers bounds concurrent hash/verify computations in a Hasher.
	Workers int `env:"PASSWORD_HASH_WORKERS"`
}

// defaultParallelism must not depend on the host: NeedsRehash compares it exactly.
const defaultParallelism = 2

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers <= 0 {
		workers = 1
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: defaultParallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      6,
			MaxLength:      128,
			RejectVeryWeak: false,
		},
		Workers: workers,
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface (all optional):
// - TEAMSYNC_PASSWORD_MIN_LEN, TEAMSYNC_PASSWORD_MAX_LEN, TEAMSYNC_PASSWORD_REJECT_VERY_WEAK
// - TEAMSYNC_ARGON2_MEMORY_KIB, TEAMSYNC_ARGON2_ITERATIONS, TEAMSYNC_ARGON2_PARALLELISM
// - TEAMSYNC_ARGON2_SALT_LEN, TEAMSYNC_ARGON2_KEY_LEN
// - TEAMSYNC_PASSWORD_HASH_WORKERS
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TEAMSYNC_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check validates ranges. Values outside them are rejected rather than clamped.
func (c Config) Check() error {
	checks := []struct {
		name     string
		val      uint64
		min, max uint64
	}{
		{"argon2 memory_kib", uint64(c.Params.MemoryKiB), 8 * 1024, 1024 * 1024},
		{"argon2 iterations", uint64(c.Params.Iterations), 1, 20},
		{"argon2 parallelism", uint64(c.Params.Parallelism), 1, 64},
		{"argon2 salt_len", uint64(c.Params.SaltLength), 8, 64},
		{"argon2 key_len", uint64(c.Params.KeyLength), 16, 64},
	}
	for _, ch := range checks {
		if ch.val < ch.min || ch.val > ch.max {
			return fmt.Errorf("%w: %s out of range [%d..%d]", ErrInvalidConfig, ch.name, ch.min, ch.max)
		}
	}

	if c.Policy.MinLength < 1 || c.Policy.MaxLength > 4096 {
		return fmt.Errorf("%w: password length bounds out of range", ErrInvalidConfig)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"%w: min_len(%d) > max_len(%d)",
			ErrInvalidConfig,
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	return nil
}
