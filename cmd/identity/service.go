package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"teamsync/cmd/identity/ids"
	"teamsync/cmd/internal/validation"
	"teamsync/cmd/security/password"
)

const (
	nameMinLen = 2
	nameMaxLen = 50

	msgName          = "Name must be between 2 and 50 characters"
	msgEmail         = "Please provide a valid email"
	msgPasswordShort = "Password must be at least %d characters"
	msgPasswordLong  = "Password must be at most %d characters"
	msgPasswordWeak  = "Password is too easy to guess"
	msgProfileEmpty  = "At least one field (name or email) is required"
	msgCredentials   = "Email and password are required"

	dummyPassword = "teamsync-dummy-password-for-timing"
)

// Service is the Credential Store: every write path normalizes input and hashes
// passwords before anything reaches the Store.
type Service struct {
	store  Store
	hasher *password.Hasher
	log    *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummy     password.Digest
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Store and a Hasher.
func NewService(store Store, hasher *password.Hasher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if hasher == nil {
		return nil, errors.New("identity: nil hasher")
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SignupInput carries raw user input.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// CreateIdentity validates input, hashes the password and persists a new identity.
// A taken email (in any letter case) yields ConflictError{Field: "email"}.
func (s *Service) CreateIdentity(ctx context.Context, in SignupInput) (Identity, error) {
	const op = "identity.CreateIdentity"

	name := NormalizeName(in.Name)
	email := NormalizeEmail(in.Email)

	var v validation.Errors
	v.RuneLen("name", name, nameMinLen, nameMaxLen, msgName)
	if !ValidEmail(email) {
		v.Add("email", msgEmail)
	}
	if err := s.hasher.Validate(in.Password); err != nil {
		v.Add("password", s.passwordMessage(err))
	}
	if err := v.Err(op, ErrInvalidInput); err != nil {
		return Identity{}, err
	}

	// Cheap early exit; the store constraint still decides races.
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return Identity{}, ConflictError{Op: op, Field: "email"}
	} else if !IsNotFound(err) {
		return Identity{}, err
	}

	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: hash: %w", op, err)
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: id: %w", op, err)
	}

	u, err := s.store.Insert(ctx, InsertInput{
		ID:     id,
		Name:   name,
		Email:  email,
		Digest: digest,
		Now:    now,
	})
	if err != nil {
		return Identity{}, err
	}

	s.log.Info("identity.create.ok", "user_id", u.ID)
	return u, nil
}

// FindByEmail looks up an identity by any letter-case variant of its email.
func (s *Service) FindByEmail(ctx context.Context, email string) (Identity, error) {
	c, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return Identity{}, err
	}
	return c.Identity, nil
}

// FindByID looks up an identity by id.
func (s *Service) FindByID(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, notFound("identity.FindByID")
	}
	return s.store.FindByID(ctx, id)
}

// UpdatePresence sets the presence state unconditionally; repeated calls are no-ops.
func (s *Service) UpdatePresence(ctx context.Context, id string, status Status) error {
	const op = "identity.UpdatePresence"
	if !status.Valid() {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown status"}
	}
	return s.store.UpdatePresence(ctx, id, status, s.now())
}

// ProfileUpdate carries raw, optional profile fields.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UpdateProfile changes name and/or email. A new email must not belong to any
// other identity; keeping one's own email is fine.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (Identity, error) {
	const op = "identity.UpdateProfile"

	var (
		v     validation.Errors
		patch = ProfilePatch{Now: s.now()}
	)
	if in.Name == nil && in.Email == nil {
		v.Add("profile", msgProfileEmpty)
	}
	if in.Name != nil {
		name := NormalizeName(*in.Name)
		v.RuneLen("name", name, nameMinLen, nameMaxLen, msgName)
		patch.Name = &name
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if !ValidEmail(email) {
			v.Add("email", msgEmail)
		}
		patch.Email = &email
	}
	if err := v.Err(op, ErrInvalidInput); err != nil {
		return Identity{}, err
	}

	if patch.Email != nil {
		if other, err := s.store.FindByEmail(ctx, *patch.Email); err == nil && other.Identity.ID != id {
			return Identity{}, ConflictError{Op: op, Field: "email"}
		} else if err != nil && !IsNotFound(err) {
			return Identity{}, err
		}
	}

	return s.store.UpdateProfile(ctx, id, patch)
}

// Login verifies credentials and transitions presence to online.
// Unknown email and wrong password fail identically, after comparable work.
func (s *Service) Login(ctx context.Context, email, pw string) (Identity, error) {
	const op = "identity.Login"

	email = NormalizeEmail(email)
	if email == "" || pw == "" {
		var v validation.Errors
		v.Add("credentials", msgCredentials)
		return Identity{}, v.Err(op, ErrInvalidInput)
	}

	cred, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			s.burnVerify(ctx, pw)
			return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return Identity{}, err
	}

	ok, err := s.hasher.Verify(ctx, pw, cred.Digest)
	if err != nil {
		// Malformed stored digest: data corruption, not a user error.
		return Identity{}, fmt.Errorf("%s: verify: %w", op, err)
	}
	if !ok {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if s.hasher.NeedsRehash(cred.Digest) {
		s.upgradeDigest(ctx, cred.Identity.ID, pw)
	}

	if err := s.store.UpdatePresence(ctx, cred.Identity.ID, StatusOnline, s.now()); err != nil {
		return Identity{}, err
	}
	cred.Identity.Status = StatusOnline
	return cred.Identity, nil
}

// Logout transitions presence to offline. It does not revoke tokens.
func (s *Service) Logout(ctx context.Context, id string) error {
	return s.UpdatePresence(ctx, id, StatusOffline)
}

// ChangePassword is the only path that replaces a stored digest on request.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	const op = "identity.ChangePassword"

	var v validation.Errors
	if current == "" {
		v.Add("currentPassword", "Current password is required")
	}
	if err := s.hasher.Validate(next); err != nil {
		v.Add("newPassword", s.passwordMessage(err))
	}
	if err := v.Err(op, ErrInvalidInput); err != nil {
		return err
	}

	cred, err := s.store.FindCredentialsByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, current, cred.Digest)
	if err != nil {
		return fmt.Errorf("%s: verify: %w", op, err)
	}
	if !ok {
		return OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	digest, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return fmt.Errorf("%s: hash: %w", op, err)
	}
	if err := s.store.UpdateDigest(ctx, id, digest, s.now()); err != nil {
		return err
	}
	s.log.Info("identity.password.changed", "user_id", id)
	return nil
}

// AddWorkspace appends workspaceID to the identity's references if absent.
func (s *Service) AddWorkspace(ctx context.Context, id, workspaceID string) error {
	return s.store.AddWorkspace(ctx, id, workspaceID, s.now())
}

// RemoveWorkspace drops workspaceID from the identity's references.
func (s *Service) RemoveWorkspace(ctx context.Context, id, workspaceID string) error {
	return s.store.RemoveWorkspace(ctx, id, workspaceID)
}

func (s *Service) burnVerify(ctx context.Context, pw string) {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
		if err != nil {
			s.log.Warn("identity.dummy_hash.fail", "err", err)
			return
		}
		s.dummy = d
	})
	if s.dummy != "" {
		_, _ = s.hasher.Verify(ctx, pw, s.dummy)
	}
}

func (s *Service) upgradeDigest(ctx context.Context, id, pw string) {
	d, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		// Passwords predating the current policy cannot be rehashed; keep the old digest.
		s.log.Debug("identity.rehash.skip", "user_id", id, "err", err)
		return
	}
	if err := s.store.UpdateDigest(ctx, id, d, s.now()); err != nil {
		s.log.Warn("identity.rehash.fail", "user_id", id, "err", err)
		return
	}
	s.log.Info("identity.rehash.ok", "user_id", id)
}

func (s *Service) passwordMessage(err error) string {
	p := s.hasher.Config().Policy
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return fmt.Sprintf(msgPasswordShort, p.MinLength)
	case errors.Is(err, password.ErrPasswordTooLong):
		return fmt.Sprintf(msgPasswordLong, p.MaxLength)
	default:
		return msgPasswordWeak
	}
}
