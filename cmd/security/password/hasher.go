package password

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Digest is an encoded, self-describing password hash. Raw passwords are plain
// strings; keeping the two types apart makes double hashing a compile error.
type Digest string

// Hasher runs Argon2id work behind a weighted semaphore so that a burst of
// signups or logins cannot monopolize every CPU.
type Hasher struct {
	cfg     Config
	sem     *semaphore.Weighted
	observe func(op string, d time.Duration)
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithObserver registers a callback invoked with the wall time of every hash/verify.
func WithObserver(fn func(op string, d time.Duration)) HasherOption {
	return func(h *Hasher) {
		if fn != nil {
			h.observe = fn
		}
	}
}

// NewHasher constructs a Hasher. Workers <= 0 means one slot.
func NewHasher(cfg Config, opts ...HasherOption) (*Hasher, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	h := &Hasher{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(workers)),
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Config returns the hasher configuration.
func (h *Hasher) Config() Config { return h.cfg }

// Validate checks the password policy without hashing.
func (h *Hasher) Validate(password string) error { return h.cfg.Validate(password) }

// Hash validates and hashes password once a worker slot is available.
// A fresh random salt is drawn per call.
func (h *Hasher) Hash(ctx context.Context, password string) (Digest, error) {
	if err := h.cfg.Validate(password); err != nil {
		return "", err
	}
	start := time.Now()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("password.Hash: %w", err)
	}
	defer h.sem.Release(1)

	d, err := h.cfg.Hash(password)
	h.observe("hash", time.Since(start))
	return d, err
}

// Verify compares password against digest once a worker slot is available.
func (h *Hasher) Verify(ctx context.Context, password string, digest Digest) (bool, error) {
	start := time.Now()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("password.Verify: %w", err)
	}
	defer h.sem.Release(1)

	ok, err := h.cfg.Verify(digest, password)
	h.observe("verify", time.Since(start))
	return ok, err
}

// NeedsRehash reports whether digest should be replaced on next successful login.
func (h *Hasher) NeedsRehash(digest Digest) bool { return h.cfg.NeedsRehash(digest) }
