package identity

import (
	"context"
	"time"

	"teamsync/cmd/security/password"
)

// Status is an identity's presence.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
)

// Valid reports whether s is a known presence state.
func (s Status) Valid() bool { return s == StatusOffline || s == StatusOnline }

// Identity is TeamSync's canonical security principal. It never carries
// credential material.
type Identity struct {
	ID         string
	Name       string
	Email      string // normalized
	Status     Status
	Workspaces []string // ordered by when the identity joined

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberOf reports whether workspaceID is among the identity's references.
func (u Identity) MemberOf(workspaceID string) bool {
	for _, w := range u.Workspaces {
		if w == workspaceID {
			return true
		}
	}
	return false
}

// Credentials pairs an identity with its stored digest for login checks.
type Credentials struct {
	Identity Identity
	Digest   password.Digest
}

// InsertInput is a fully prepared row: normalized email, already-hashed digest.
type InsertInput struct {
	ID     string
	Name   string
	Email  string
	Digest password.Digest
	Now    time.Time
}

// ProfilePatch updates only the non-nil fields. Values are already normalized.
type ProfilePatch struct {
	Name  *string
	Email *string
	Now   time.Time
}

// Store is the identity persistence boundary.
//
// Contract:
// - Email uniqueness is enforced by the store and surfaced as ConflictError{Field: "email"}.
// - Missing rows are NotFoundError.
// - AddWorkspace is an atomic add-if-absent; repeating it is a no-op.
type Store interface {
	Insert(ctx context.Context, in InsertInput) (Identity, error)
	FindByEmail(ctx context.Context, emailNorm string) (Credentials, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	FindCredentialsByID(ctx context.Context, id string) (Credentials, error)

	UpdatePresence(ctx context.Context, id string, status Status, now time.Time) error
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Identity, error)
	UpdateDigest(ctx context.Context, id string, digest password.Digest, now time.Time) error

	AddWorkspace(ctx context.Context, id, workspaceID string, now time.Time) error
	RemoveWorkspace(ctx context.Context, id, workspaceID string) error
}
