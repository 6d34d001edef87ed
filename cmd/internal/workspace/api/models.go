package workspaceapi

import (
	"time"

	"teamsync/cmd/internal/workspace"
)

type createWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	IsPrivate   bool   `json:"isPrivate"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type channelMemberRequest struct {
	UserID string `json:"userId"`
}

type memberResponse struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type workspaceResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Avatar      string           `json:"avatar,omitempty"`
	CreatedBy   string           `json:"createdBy"`
	InviteCode  string           `json:"inviteCode,omitempty"`
	Members     []memberResponse `json:"members"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type channelResponse struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspaceId"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Type           string     `json:"type"`
	IsPrivate      bool       `json:"isPrivate"`
	Members        []string   `json:"members"`
	CreatedBy      string     `json:"createdBy"`
	LastActivityAt *time.Time `json:"lastMessageAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type workspaceEnvelope struct {
	Workspace workspaceResponse `json:"workspace"`
}

type joinResponse struct {
	Workspace workspaceResponse `json:"workspace"`
	Joined    bool              `json:"joined"`
}

type channelEnvelope struct {
	Channel channelResponse `json:"channel"`
}

type channelsResponse struct {
	Channels []channelResponse `json:"channels"`
}

type inviteResponse struct {
	InviteCode string `json:"inviteCode"`
}

type previewResponse struct {
	WorkspaceID   string `json:"workspaceId"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Avatar        string `json:"avatar,omitempty"`
	MemberCount   int    `json:"memberCount"`
	AlreadyMember bool   `json:"alreadyMember"`
}

// toWorkspaceResponse hides the invite code from everyone but admins.
func toWorkspaceResponse(w workspace.Workspace, viewerID string) workspaceResponse {
	members := make([]memberResponse, 0, len(w.Members))
	for _, m := range w.Members {
		members = append(members, memberResponse{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt})
	}
	out := workspaceResponse{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Avatar:      w.Avatar,
		CreatedBy:   w.OwnerID,
		Members:     members,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if workspace.IsWorkspaceAdmin(viewerID, w) {
		out.InviteCode = w.InviteCode
	}
	return out
}

func toChannelResponse(c workspace.Channel) channelResponse {
	members := c.Members
	if members == nil {
		members = []string{}
	}
	return channelResponse{
		ID:             c.ID,
		WorkspaceID:    c.WorkspaceID,
		Name:           c.Name,
		Description:    c.Description,
		Type:           string(c.Type),
		IsPrivate:      c.IsPrivate,
		Members:        members,
		CreatedBy:      c.CreatedBy,
		LastActivityAt: c.LastActivityAt,
		CreatedAt:      c.CreatedAt,
	}
}
