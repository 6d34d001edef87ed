package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"teamsync/cmd/identity/ids"
	"teamsync/cmd/internal/invite"
	"teamsync/cmd/internal/validation"
)

const (
	nameMinLen        = 2
	nameMaxLen        = 50
	descriptionMaxLen = 200
	avatarMaxLen      = 2048

	msgWorkspaceName = "Workspace name must be between 2 and 50 characters"
	msgChannelName   = "Channel name must be between 2 and 50 characters"
	msgDescription   = "Description must be at most 200 characters"
	msgAvatar        = "Avatar must be at most 2048 characters"
	msgChannelType   = "Channel type must be text or video"
	msgRole          = "Role must be admin or member"

	inviteAttempts = 3
)

// Directory mirrors membership onto identities' workspace references.
// *identity.Service satisfies it; both calls must be idempotent.
type Directory interface {
	AddWorkspace(ctx context.Context, userID, workspaceID string) error
	RemoveWorkspace(ctx context.Context, userID, workspaceID string) error
}

// Service applies the authorization model on top of a Store.
type Service struct {
	store Store
	dir   Directory
	log   *slog.Logger
	now   func() time.Time

	newCode func() (string, error)
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

// WithCodeGenerator overrides invite code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.newCode = gen
		}
	}
}

// NewService wires a Store and a Directory.
func NewService(store Store, dir Directory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("workspace: nil store")
	}
	if dir == nil {
		return nil, errors.New("workspace: nil directory")
	}
	s := &Service{
		store:   store,
		dir:     dir,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newCode: func() (string, error) { return invite.NewCode(invite.DefaultCodeBytes) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateWorkspaceInput carries raw user input.
type CreateWorkspaceInput struct {
	Name        string
	Description string
	Avatar      string
}

// CreateWorkspace creates a workspace with actorID as its first admin.
func (s *Service) CreateWorkspace(ctx context.Context, actorID string, in CreateWorkspaceInput) (Workspace, error) {
	const op = "workspace.CreateWorkspace"

	name := strings.TrimSpace(in.Name)
	desc := strings.TrimSpace(in.Description)
	avatar := strings.TrimSpace(in.Avatar)

	var v validation.Errors
	v.RuneLen("name", name, nameMinLen, nameMaxLen, msgWorkspaceName)
	v.RuneLen("description", desc, 0, descriptionMaxLen, msgDescription)
	v.RuneLen("avatar", avatar, 0, avatarMaxLen, msgAvatar)
	if err := v.Err(op, ErrInvalidInput); err != nil {
		return Workspace{}, err
	}
	if actorID == "" {
		return Workspace{}, opErr(op, ErrForbidden, "anonymous")
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Workspace{}, fmt.Errorf("%s: id: %w", op, err)
	}
	w, err := s.store.CreateWorkspace(ctx, NewWorkspace{
		ID:          id,
		Name:        name,
		Description: desc,
		Avatar:      avatar,
		OwnerID:     actorID,
		Now:         now,
	})
	if err != nil {
		return Workspace{}, err
	}
	if err := s.dir.AddWorkspace(ctx, actorID, w.ID); err != nil {
		return Workspace{}, fmt.Errorf("%s: directory: %w", op, err)
	}

	s.log.Info("workspace.create.ok", "workspace_id", w.ID, "user_id", actorID)
	return w, nil
}

// GetWorkspace returns the workspace to its members.
func (s *Service) GetWorkspace(ctx context.Context, actorID, workspaceID string) (Workspace, error) {
	const op = "workspace.GetWorkspace"
	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if !IsWorkspaceMember(actorID, w) {
		return Workspace{}, opErr(op, ErrNotWorkspaceMember, "")
	}
	return w, nil
}

// IsWorkspaceMember is the store-backed form of the predicate.
func (s *Service) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return IsWorkspaceMember(userID, w), nil
}

// IsWorkspaceAdmin is the store-backed form of the predicate.
func (s *Service) IsWorkspaceAdmin(ctx context.Context, userID, workspaceID string) (bool, error) {
	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return IsWorkspaceAdmin(userID, w), nil
}

// GenerateInviteCode replaces the workspace's invite code with a fresh one.
// Admin only.
func (s *Service) GenerateInviteCode(ctx context.Context, actorID, workspaceID string) (string, error) {
	const op = "workspace.GenerateInviteCode"

	if _, err := s.requireAdmin(ctx, op, actorID, workspaceID); err != nil {
		return "", err
	}
	for attempt := 0; attempt < inviteAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		err = s.store.SetInviteCode(ctx, workspaceID, code, s.now())
		if err == nil {
			s.log.Info("workspace.invite.rotate.ok", "workspace_id", workspaceID, "user_id", actorID)
			return code, nil
		}
		if !IsConflict(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: no unique code after %d attempts", op, inviteAttempts)
}

// RevokeInviteCode removes the invite code. Admin only; idempotent.
func (s *Service) RevokeInviteCode(ctx context.Context, actorID, workspaceID string) error {
	const op = "workspace.RevokeInviteCode"

	if _, err := s.requireAdmin(ctx, op, actorID, workspaceID); err != nil {
		return err
	}
	if err := s.store.SetInviteCode(ctx, workspaceID, "", s.now()); err != nil {
		return err
	}
	s.log.Info("workspace.invite.revoke.ok", "workspace_id", workspaceID, "user_id", actorID)
	return nil
}

// InvitePreview is what an invite link reveals before joining.
type InvitePreview struct {
	WorkspaceID   string
	Name          string
	Description   string
	Avatar        string
	MemberCount   int
	AlreadyMember bool
}

// PreviewInvite resolves code for viewerID, which is empty for anonymous viewers.
func (s *Service) PreviewInvite(ctx context.Context, code, viewerID string) (InvitePreview, error) {
	w, err := s.resolveInvite(ctx, "workspace.PreviewInvite", code)
	if err != nil {
		return InvitePreview{}, err
	}
	return InvitePreview{
		WorkspaceID:   w.ID,
		Name:          w.Name,
		Description:   w.Description,
		Avatar:        w.Avatar,
		MemberCount:   len(w.Members),
		AlreadyMember: IsWorkspaceMember(viewerID, w),
	}, nil
}

// JoinByInvite is canJoinWorkspace: it resolves code and adds actorID as a
// member if absent. Redeeming again is a no-op; joined reports whether this
// call added the membership.
func (s *Service) JoinByInvite(ctx context.Context, actorID, code string) (w Workspace, joined bool, err error) {
	const op = "workspace.JoinByInvite"

	if actorID == "" {
		return Workspace{}, false, opErr(op, ErrForbidden, "anonymous")
	}
	w, err = s.resolveInvite(ctx, op, code)
	if err != nil {
		return Workspace{}, false, err
	}

	joined, err = s.store.AddMember(ctx, w.ID, actorID, RoleMember, s.now())
	if err != nil {
		return Workspace{}, false, err
	}
	if err := s.dir.AddWorkspace(ctx, actorID, w.ID); err != nil {
		return Workspace{}, false, fmt.Errorf("%s: directory: %w", op, err)
	}

	w, err = s.store.GetWorkspace(ctx, w.ID)
	if err != nil {
		return Workspace{}, false, err
	}
	if joined {
		s.log.Info("workspace.join.ok", "workspace_id", w.ID, "user_id", actorID)
	}
	return w, joined, nil
}

func (s *Service) resolveInvite(ctx context.Context, op, code string) (Workspace, error) {
	norm, err := invite.Normalize(code)
	if err != nil {
		return Workspace{}, opErr(op, ErrInvalidInvite, "")
	}
	w, err := s.store.FindByInviteCode(ctx, norm)
	if err != nil {
		if IsNotFound(err) {
			return Workspace{}, opErr(op, ErrInvalidInvite, "")
		}
		return Workspace{}, err
	}
	return w, nil
}

// SetMemberRole promotes or demotes targetID. Admin only; the last admin
// cannot be demoted.
func (s *Service) SetMemberRole(ctx context.Context, actorID, workspaceID, targetID string, role Role) (Workspace, error) {
	const op = "workspace.SetMemberRole"

	if !role.Valid() {
		var v validation.Errors
		v.Add("role", msgRole)
		return Workspace{}, v.Err(op, ErrInvalidInput)
	}
	w, err := s.store.UpdateMemberRole(ctx, MemberChange{
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		TargetID:    targetID,
		Role:        role,
		Now:         s.now(),
	})
	if err != nil {
		return Workspace{}, err
	}
	s.log.Info("workspace.role.ok", "workspace_id", workspaceID, "user_id", actorID, "target_id", targetID, "role", string(role))
	return w, nil
}

// RemoveMember removes targetID from the workspace and all its channels.
// Admin only; the last admin cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, workspaceID, targetID string) (Workspace, error) {
	const op = "workspace.RemoveMember"

	w, err := s.store.RemoveMember(ctx, MemberChange{
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		TargetID:    targetID,
		Now:         s.now(),
	})
	if err != nil {
		return Workspace{}, err
	}
	if err := s.dir.RemoveWorkspace(ctx, targetID, workspaceID); err != nil {
		return Workspace{}, fmt.Errorf("%s: directory: %w", op, err)
	}
	s.log.Info("workspace.member.remove.ok", "workspace_id", workspaceID, "user_id", actorID, "target_id", targetID)
	return w, nil
}

// CreateChannelInput carries raw user input. Type defaults to text.
type CreateChannelInput struct {
	Name        string
	Description string
	Type        ChannelType
	IsPrivate   bool
}

// CreateChannel requires workspace membership; the creator becomes the
// channel's first member.
func (s *Service) CreateChannel(ctx context.Context, actorID, workspaceID string, in CreateChannelInput) (Channel, error) {
	const op = "workspace.CreateChannel"

	name := strings.TrimSpace(in.Name)
	desc := strings.TrimSpace(in.Description)
	typ := ChannelType(strings.ToLower(strings.TrimSpace(string(in.Type))))
	if typ == "" {
		typ = ChannelText
	}

	var v validation.Errors
	v.RuneLen("name", name, nameMinLen, nameMaxLen, msgChannelName)
	v.RuneLen("description", desc, 0, descriptionMaxLen, msgDescription)
	if !typ.Valid() {
		v.Add("type", msgChannelType)
	}
	if err := v.Err(op, ErrInvalidInput); err != nil {
		return Channel{}, err
	}

	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Channel{}, err
	}
	if !CanCreateChannel(actorID, w) {
		return Channel{}, opErr(op, ErrNotWorkspaceMember, "")
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Channel{}, fmt.Errorf("%s: id: %w", op, err)
	}
	c, err := s.store.CreateChannel(ctx, NewChannel{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        name,
		Description: desc,
		Type:        typ,
		IsPrivate:   in.IsPrivate,
		CreatedBy:   actorID,
		Now:         now,
	})
	if err != nil {
		return Channel{}, err
	}
	s.log.Info("workspace.channel.create.ok", "workspace_id", workspaceID, "channel_id", c.ID, "user_id", actorID, "private", c.IsPrivate)
	return c, nil
}

// ListChannels returns the channels actorID can access: all public ones and
// the private ones they belong to.
func (s *Service) ListChannels(ctx context.Context, actorID, workspaceID string) ([]Channel, error) {
	const op = "workspace.ListChannels"

	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !IsWorkspaceMember(actorID, w) {
		return nil, opErr(op, ErrNotWorkspaceMember, "")
	}
	all, err := s.store.ListChannels(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(all))
	for _, c := range all {
		if CanAccessChannel(actorID, w, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Action is what a user wants to do in a channel.
type Action int

const (
	ActionRead Action = iota
	ActionPost
)

// AuthorizeChannel loads the channel and its workspace and checks action for
// userID. Denials are ErrForbidden.
func (s *Service) AuthorizeChannel(ctx context.Context, userID, channelID string, action Action) (Channel, error) {
	const op = "workspace.AuthorizeChannel"

	c, w, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	var allowed bool
	switch action {
	case ActionPost:
		allowed = CanPostMessage(userID, w, c)
	default:
		allowed = CanAccessChannel(userID, w, c)
	}
	if !allowed {
		return Channel{}, opErr(op, ErrForbidden, "channel access denied")
	}
	return c, nil
}

// CanAccessChannel is the store-backed form of the predicate.
func (s *Service) CanAccessChannel(ctx context.Context, userID, channelID string) (bool, error) {
	return s.can(ctx, userID, channelID, ActionRead)
}

// CanPostMessage is the store-backed form of the predicate.
func (s *Service) CanPostMessage(ctx context.Context, userID, channelID string) (bool, error) {
	return s.can(ctx, userID, channelID, ActionPost)
}

func (s *Service) can(ctx context.Context, userID, channelID string, action Action) (bool, error) {
	_, err := s.AuthorizeChannel(ctx, userID, channelID, action)
	switch {
	case err == nil:
		return true, nil
	case IsForbidden(err):
		return false, nil
	default:
		return false, err
	}
}

// GetChannel returns the channel if actorID can access it.
func (s *Service) GetChannel(ctx context.Context, actorID, channelID string) (Channel, error) {
	return s.AuthorizeChannel(ctx, actorID, channelID, ActionRead)
}

// AddChannelMember adds targetID to the channel. The actor must be able to
// access the channel; the target must already be a workspace member.
// Adding an existing member is a no-op.
func (s *Service) AddChannelMember(ctx context.Context, actorID, channelID, targetID string) (Channel, error) {
	const op = "workspace.AddChannelMember"

	c, w, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	if !CanAccessChannel(actorID, w, c) {
		return Channel{}, opErr(op, ErrForbidden, "channel access denied")
	}
	if !IsWorkspaceMember(targetID, w) {
		return Channel{}, opErr(op, ErrNotWorkspaceMember, "target")
	}

	// The store re-checks membership atomically with the insert.
	c, added, err := s.store.AddChannelMember(ctx, channelID, targetID, s.now())
	if err != nil {
		return Channel{}, err
	}
	if added {
		s.log.Info("workspace.channel.member.add.ok", "channel_id", channelID, "user_id", actorID, "target_id", targetID)
	}
	return c, nil
}

// RecordChannelActivity moves the channel's last-activity timestamp forward.
// Callers invoke it after an authorized post.
func (s *Service) RecordChannelActivity(ctx context.Context, channelID string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	return s.store.TouchChannel(ctx, channelID, at)
}

func (s *Service) loadChannel(ctx context.Context, channelID string) (Channel, Workspace, error) {
	c, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return Channel{}, Workspace{}, err
	}
	w, err := s.store.GetWorkspace(ctx, c.WorkspaceID)
	if err != nil {
		return Channel{}, Workspace{}, err
	}
	return c, w, nil
}

func (s *Service) requireAdmin(ctx context.Context, op, actorID, workspaceID string) (Workspace, error) {
	w, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if !IsWorkspaceMember(actorID, w) {
		return Workspace{}, opErr(op, ErrNotWorkspaceMember, "")
	}
	if !IsWorkspaceAdmin(actorID, w) {
		return Workspace{}, opErr(op, ErrForbidden, "admin role required")
	}
	return w, nil
}
