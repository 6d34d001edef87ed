package session

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("TEAMSYNC_JWT_SECRET", "")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("TEAMSYNC_JWT_SECRET", "too-short")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("TEAMSYNC_JWT_SECRET", strings.Repeat("k", 40))
	t.Setenv("TEAMSYNC_JWT_ISSUER", "teamsync-test")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "teamsync-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if len(cfg.Secret) != 40 {
		t.Fatalf("secret not loaded")
	}
}

func TestLoadConfigFromEnv_DefaultIssuer(t *testing.T) {
	t.Setenv("TEAMSYNC_JWT_SECRET", strings.Repeat("k", 32))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "teamsync" {
		t.Fatalf("expected default issuer, got %q", cfg.Issuer)
	}
}
