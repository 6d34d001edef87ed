package workspace

import (
	"context"
	"time"
)

// NewWorkspace is a validated workspace row. OwnerID becomes the first admin.
type NewWorkspace struct {
	ID          string
	Name        string
	Description string
	Avatar      string
	OwnerID     string
	Now         time.Time
}

// NewChannel is a validated channel row. CreatedBy becomes its first member.
type NewChannel struct {
	ID          string
	WorkspaceID string
	Name        string
	Description string
	Type        ChannelType
	IsPrivate   bool
	CreatedBy   string
	Now         time.Time
}

// MemberChange names who changes whom. Role is ignored by RemoveMember.
type MemberChange struct {
	WorkspaceID string
	ActorID     string
	TargetID    string
	Role        Role
	Now         time.Time
}

// Store is the workspace persistence boundary.
//
// Contract:
//   - Missing rows are NotFoundError.
//   - AddMember and AddChannelMember are atomic add-if-absent; added reports
//     whether a new entry was created.
//   - UpdateMemberRole and RemoveMember evaluate CheckMemberChange and apply the
//     change as one atomic step per workspace.
//   - Removing a member also removes them from every channel of the workspace.
//   - CreateChannel and AddChannelMember reject users who are not workspace
//     members with ErrNotWorkspaceMember.
//   - Channel names are unique per workspace, ignoring case: ConflictError{Field: "name"}.
//   - Invite codes are unique across workspaces: ConflictError{Field: "invite_code"}.
type Store interface {
	CreateWorkspace(ctx context.Context, in NewWorkspace) (Workspace, error)
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	FindByInviteCode(ctx context.Context, code string) (Workspace, error)
	SetInviteCode(ctx context.Context, workspaceID, code string, now time.Time) error

	AddMember(ctx context.Context, workspaceID, userID string, role Role, now time.Time) (added bool, err error)
	UpdateMemberRole(ctx context.Context, in MemberChange) (Workspace, error)
	RemoveMember(ctx context.Context, in MemberChange) (Workspace, error)

	CreateChannel(ctx context.Context, in NewChannel) (Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	ListChannels(ctx context.Context, workspaceID string) ([]Channel, error)
	AddChannelMember(ctx context.Context, channelID, userID string, now time.Time) (Channel, bool, error)
	TouchChannel(ctx context.Context, channelID string, at time.Time) error
}
