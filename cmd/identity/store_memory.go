package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"teamsync/cmd/security/password"
)

// MemoryStore is an in-process Store used when no database is configured and in tests.
// A single mutex serializes writes, which gives the same uniqueness guarantees as the
// Postgres constraint.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*memRow
	byEmail map[string]string
}

type memRow struct {
	identity Identity
	digest   password.Digest
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memRow),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(ctx context.Context, in InsertInput) (Identity, error) {
	const op = "identity.Insert"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(in.ID) == "" || in.Email == "" || in.Digest == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "incomplete row"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[in.Email]; taken {
		return Identity{}, ConflictError{Op: op, Field: "email"}
	}
	if _, taken := s.byID[in.ID]; taken {
		return Identity{}, ConflictError{Op: op, Field: "id"}
	}

	row := &memRow{
		identity: Identity{
			ID:        in.ID,
			Name:      in.Name,
			Email:     in.Email,
			Status:    StatusOffline,
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
		},
		digest: in.Digest,
	}
	s.byID[in.ID] = row
	s.byEmail[in.Email] = in.ID
	return row.snapshot(), nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, emailNorm string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return Credentials{}, notFound("identity.FindByEmail")
	}
	row := s.byID[id]
	return Credentials{Identity: row.snapshot(), Digest: row.digest}, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Identity, error) {
	c, err := s.FindCredentialsByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	return c.Identity, nil
}

func (s *MemoryStore) FindCredentialsByID(ctx context.Context, id string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return Credentials{}, notFound("identity.FindByID")
	}
	return Credentials{Identity: row.snapshot(), Digest: row.digest}, nil
}

func (s *MemoryStore) UpdatePresence(ctx context.Context, id string, status Status, now time.Time) error {
	return s.mutate(ctx, "identity.UpdatePresence", id, func(r *memRow) error {
		r.identity.Status = status
		r.identity.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Identity, error) {
	const op = "identity.UpdateProfile"
	var out Identity
	err := s.mutate(ctx, op, id, func(r *memRow) error {
		if patch.Email != nil && *patch.Email != r.identity.Email {
			if other, taken := s.byEmail[*patch.Email]; taken && other != id {
				return ConflictError{Op: op, Field: "email"}
			}
			delete(s.byEmail, r.identity.Email)
			s.byEmail[*patch.Email] = id
			r.identity.Email = *patch.Email
		}
		if patch.Name != nil {
			r.identity.Name = *patch.Name
		}
		r.identity.UpdatedAt = patch.Now
		out = r.snapshot()
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpdateDigest(ctx context.Context, id string, digest password.Digest, now time.Time) error {
	return s.mutate(ctx, "identity.UpdateDigest", id, func(r *memRow) error {
		r.digest = digest
		r.identity.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) AddWorkspace(ctx context.Context, id, workspaceID string, _ time.Time) error {
	return s.mutate(ctx, "identity.AddWorkspace", id, func(r *memRow) error {
		if !r.identity.MemberOf(workspaceID) {
			r.identity.Workspaces = append(r.identity.Workspaces, workspaceID)
		}
		return nil
	})
}

func (s *MemoryStore) RemoveWorkspace(ctx context.Context, id, workspaceID string) error {
	return s.mutate(ctx, "identity.RemoveWorkspace", id, func(r *memRow) error {
		out := r.identity.Workspaces[:0]
		for _, w := range r.identity.Workspaces {
			if w != workspaceID {
				out = append(out, w)
			}
		}
		r.identity.Workspaces = out
		return nil
	})
}

func (s *MemoryStore) mutate(ctx context.Context, op, id string, fn func(*memRow) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	return fn(row)
}

func (r *memRow) snapshot() Identity {
	out := r.identity
	out.Workspaces = append([]string(nil), r.identity.Workspaces...)
	return out
}
