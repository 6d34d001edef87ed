package workspace

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. One mutex serializes every mutation,
// which is what makes the read-check-write steps atomic.
type MemoryStore struct {
	mu sync.Mutex

	workspaces map[string]*Workspace
	byInvite   map[string]string
	channels   map[string]*Channel
	byName     map[string]string // workspaceID + "\x00" + lower(name) -> channel id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]*Workspace),
		byInvite:   make(map[string]string),
		channels:   make(map[string]*Channel),
		byName:     make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateWorkspace(ctx context.Context, in NewWorkspace) (Workspace, error) {
	const op = "workspace.CreateWorkspace"
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.workspaces[in.ID]; taken {
		return Workspace{}, ConflictError{Op: op, Field: "id"}
	}
	w := &Workspace{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Avatar:      in.Avatar,
		OwnerID:     in.OwnerID,
		Members:     []Member{{UserID: in.OwnerID, Role: RoleAdmin, JoinedAt: in.Now}},
		CreatedAt:   in.Now,
		UpdatedAt:   in.Now,
	}
	s.workspaces[in.ID] = w
	return cloneWorkspace(w), nil
}

func (s *MemoryStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[id]
	if !ok {
		return Workspace{}, notFound("workspace.GetWorkspace", "workspace")
	}
	return cloneWorkspace(w), nil
}

func (s *MemoryStore) FindByInviteCode(ctx context.Context, code string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byInvite[code]
	if !ok || code == "" {
		return Workspace{}, notFound("workspace.FindByInviteCode", "workspace")
	}
	return cloneWorkspace(s.workspaces[id]), nil
}

func (s *MemoryStore) SetInviteCode(ctx context.Context, workspaceID, code string, now time.Time) error {
	const op = "workspace.SetInviteCode"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[workspaceID]
	if !ok {
		return notFound(op, "workspace")
	}
	if code != "" {
		if other, taken := s.byInvite[code]; taken && other != workspaceID {
			return ConflictError{Op: op, Field: "invite_code"}
		}
	}
	if w.InviteCode != "" {
		delete(s.byInvite, w.InviteCode)
	}
	w.InviteCode = code
	if code != "" {
		s.byInvite[code] = workspaceID
	}
	w.UpdatedAt = now
	return nil
}

func (s *MemoryStore) AddMember(ctx context.Context, workspaceID, userID string, role Role, now time.Time) (bool, error) {
	const op = "workspace.AddMember"
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[workspaceID]
	if !ok {
		return false, notFound(op, "workspace")
	}
	if _, exists := w.Member(userID); exists {
		return false, nil
	}
	w.Members = append(w.Members, Member{UserID: userID, Role: role, JoinedAt: now})
	w.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) UpdateMemberRole(ctx context.Context, in MemberChange) (Workspace, error) {
	const op = "workspace.UpdateMemberRole"
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[in.WorkspaceID]
	if !ok {
		return Workspace{}, notFound(op, "workspace")
	}
	role := in.Role
	if err := CheckMemberChange(op, *w, in.ActorID, in.TargetID, &role); err != nil {
		return Workspace{}, err
	}
	for i := range w.Members {
		if w.Members[i].UserID == in.TargetID {
			w.Members[i].Role = role
		}
	}
	w.UpdatedAt = in.Now
	return cloneWorkspace(w), nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, in MemberChange) (Workspace, error) {
	const op = "workspace.RemoveMember"
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[in.WorkspaceID]
	if !ok {
		return Workspace{}, notFound(op, "workspace")
	}
	if err := CheckMemberChange(op, *w, in.ActorID, in.TargetID, nil); err != nil {
		return Workspace{}, err
	}

	kept := w.Members[:0]
	for _, m := range w.Members {
		if m.UserID != in.TargetID {
			kept = append(kept, m)
		}
	}
	w.Members = kept
	w.UpdatedAt = in.Now

	for _, c := range s.channels {
		if c.WorkspaceID != in.WorkspaceID {
			continue
		}
		members := c.Members[:0]
		for _, m := range c.Members {
			if m != in.TargetID {
				members = append(members, m)
			}
		}
		c.Members = members
	}
	return cloneWorkspace(w), nil
}

func (s *MemoryStore) CreateChannel(ctx context.Context, in NewChannel) (Channel, error) {
	const op = "workspace.CreateChannel"
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[in.WorkspaceID]
	if !ok {
		return Channel{}, notFound(op, "workspace")
	}
	if !IsWorkspaceMember(in.CreatedBy, *w) {
		return Channel{}, opErr(op, ErrNotWorkspaceMember, "creator")
	}
	key := in.WorkspaceID + "\x00" + nameKey(in.Name)
	if _, taken := s.byName[key]; taken {
		return Channel{}, ConflictError{Op: op, Field: "name"}
	}
	if _, taken := s.channels[in.ID]; taken {
		return Channel{}, ConflictError{Op: op, Field: "id"}
	}

	c := &Channel{
		ID:          in.ID,
		WorkspaceID: in.WorkspaceID,
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		IsPrivate:   in.IsPrivate,
		Members:     []string{in.CreatedBy},
		CreatedBy:   in.CreatedBy,
		CreatedAt:   in.Now,
	}
	s.channels[in.ID] = c
	s.byName[key] = in.ID
	return cloneChannel(c), nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return Channel{}, notFound("workspace.GetChannel", "channel")
	}
	return cloneChannel(c), nil
}

func (s *MemoryStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[workspaceID]; !ok {
		return nil, notFound("workspace.ListChannels", "workspace")
	}
	out := make([]Channel, 0)
	for _, c := range s.channels {
		if c.WorkspaceID == workspaceID {
			out = append(out, cloneChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AddChannelMember(ctx context.Context, channelID, userID string, now time.Time) (Channel, bool, error) {
	const op = "workspace.AddChannelMember"
	if err := ctx.Err(); err != nil {
		return Channel{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[channelID]
	if !ok {
		return Channel{}, false, notFound(op, "channel")
	}
	w := s.workspaces[c.WorkspaceID]
	if w == nil || !IsWorkspaceMember(userID, *w) {
		return Channel{}, false, opErr(op, ErrNotWorkspaceMember, "target")
	}
	if c.HasMember(userID) {
		return cloneChannel(c), false, nil
	}
	c.Members = append(c.Members, userID)
	return cloneChannel(c), true, nil
}

func (s *MemoryStore) TouchChannel(ctx context.Context, channelID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[channelID]
	if !ok {
		return notFound("workspace.TouchChannel", "channel")
	}
	if c.LastActivityAt == nil || at.After(*c.LastActivityAt) {
		t := at
		c.LastActivityAt = &t
	}
	return nil
}

func cloneWorkspace(w *Workspace) Workspace {
	out := *w
	out.Members = append([]Member(nil), w.Members...)
	return out
}

func cloneChannel(c *Channel) Channel {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	if c.LastActivityAt != nil {
		t := *c.LastActivityAt
		out.LastActivityAt = &t
	}
	return out
}
