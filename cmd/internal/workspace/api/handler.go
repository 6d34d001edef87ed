// Package workspaceapi serves the workspace, invite and channel endpoints.
package workspaceapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"teamsync/cmd/internal/auth/guard"
	"teamsync/cmd/internal/httpx"
	"teamsync/cmd/internal/workspace"
)

// Workspaces is the authorization surface the handlers need.
// *workspace.Service satisfies it.
type Workspaces interface {
	CreateWorkspace(ctx context.Context, actorID string, in workspace.CreateWorkspaceInput) (workspace.Workspace, error)
	GetWorkspace(ctx context.Context, actorID, workspaceID string) (workspace.Workspace, error)
	GenerateInviteCode(ctx context.Context, actorID, workspaceID string) (string, error)
	RevokeInviteCode(ctx context.Context, actorID, workspaceID string) error
	PreviewInvite(ctx context.Context, code, viewerID string) (workspace.InvitePreview, error)
	JoinByInvite(ctx context.Context, actorID, code string) (workspace.Workspace, bool, error)
	SetMemberRole(ctx context.Context, actorID, workspaceID, targetID string, role workspace.Role) (workspace.Workspace, error)
	RemoveMember(ctx context.Context, actorID, workspaceID, targetID string) (workspace.Workspace, error)
	CreateChannel(ctx context.Context, actorID, workspaceID string, in workspace.CreateChannelInput) (workspace.Channel, error)
	ListChannels(ctx context.Context, actorID, workspaceID string) ([]workspace.Channel, error)
	AddChannelMember(ctx context.Context, actorID, channelID, targetID string) (workspace.Channel, error)
}

// Authenticator provides the mandatory and optional request guards.
// *guard.Guard satisfies it.
type Authenticator interface {
	Require(next http.Handler) http.Handler
	Optional(next http.Handler) http.Handler
}

// Handler wires HTTP workspace endpoints to the authorization model.
type Handler struct {
	log          *slog.Logger
	svc          Workspaces
	auth         Authenticator
	maxBodyBytes int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler constructs a workspace Handler.
func NewHandler(svc Workspaces, auth Authenticator, opts ...HandlerOption) (*Handler, error) {
	if svc == nil || auth == nil {
		return nil, errors.New("workspaceapi: nil dependency")
	}
	h := &Handler{log: slog.Default(), svc: svc, auth: auth, maxBodyBytes: httpx.DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires workspace routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	req := func(fn http.HandlerFunc) http.Handler { return h.auth.Require(fn) }

	mux.Handle("POST /workspaces", req(h.handleCreateWorkspace))
	mux.Handle("GET /workspaces/{id}", req(h.handleGetWorkspace))
	mux.Handle("POST /workspaces/{id}/invite", req(h.handleGenerateInvite))
	mux.Handle("DELETE /workspaces/{id}/invite", req(h.handleRevokeInvite))
	mux.Handle("PUT /workspaces/{id}/members/{userID}/role", req(h.handleSetRole))
	mux.Handle("DELETE /workspaces/{id}/members/{userID}", req(h.handleRemoveMember))
	mux.Handle("POST /workspaces/{id}/channels", req(h.handleCreateChannel))
	mux.Handle("GET /workspaces/{id}/channels", req(h.handleListChannels))
	mux.Handle("POST /channels/{id}/members", req(h.handleAddChannelMember))

	mux.Handle("GET /invites/{code}", h.auth.Optional(http.HandlerFunc(h.handlePreviewInvite)))
	mux.Handle("POST /invites/{code}/join", req(h.handleJoin))
}

// ---- handlers ----

func (h *Handler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	var body createWorkspaceRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	ws, err := h.svc.CreateWorkspace(r.Context(), actor, workspace.CreateWorkspaceInput{
		Name:        body.Name,
		Description: body.Description,
		Avatar:      body.Avatar,
	})
	if err != nil {
		h.writeError(w, "workspace.create.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, workspaceEnvelope{Workspace: toWorkspaceResponse(ws, actor)})
}

func (h *Handler) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	ws, err := h.svc.GetWorkspace(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, "workspace.get.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workspaceEnvelope{Workspace: toWorkspaceResponse(ws, actor)})
}

func (h *Handler) handleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	code, err := h.svc.GenerateInviteCode(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, "workspace.invite.rotate.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inviteResponse{InviteCode: code})
}

func (h *Handler) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	if err := h.svc.RevokeInviteCode(r.Context(), actor, r.PathValue("id")); err != nil {
		h.writeError(w, "workspace.invite.revoke.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePreviewInvite(w http.ResponseWriter, r *http.Request) {
	viewer := guard.FromContext(r.Context()).UserID()

	p, err := h.svc.PreviewInvite(r.Context(), r.PathValue("code"), viewer)
	if err != nil {
		h.writeError(w, "workspace.invite.preview.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, previewResponse{
		WorkspaceID:   p.WorkspaceID,
		Name:          p.Name,
		Description:   p.Description,
		Avatar:        p.Avatar,
		MemberCount:   p.MemberCount,
		AlreadyMember: p.AlreadyMember,
	})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	ws, joined, err := h.svc.JoinByInvite(r.Context(), actor, r.PathValue("code"))
	if err != nil {
		h.writeError(w, "workspace.join.fail", err)
		return
	}
	status := http.StatusOK
	if joined {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, joinResponse{Workspace: toWorkspaceResponse(ws, actor), Joined: joined})
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	var body roleRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	ws, err := h.svc.SetMemberRole(r.Context(), actor, r.PathValue("id"), r.PathValue("userID"), workspace.Role(body.Role))
	if err != nil {
		h.writeError(w, "workspace.role.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workspaceEnvelope{Workspace: toWorkspaceResponse(ws, actor)})
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	ws, err := h.svc.RemoveMember(r.Context(), actor, r.PathValue("id"), r.PathValue("userID"))
	if err != nil {
		h.writeError(w, "workspace.member.remove.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workspaceEnvelope{Workspace: toWorkspaceResponse(ws, actor)})
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	var body createChannelRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	c, err := h.svc.CreateChannel(r.Context(), actor, r.PathValue("id"), workspace.CreateChannelInput{
		Name:        body.Name,
		Description: body.Description,
		Type:        workspace.ChannelType(body.Type),
		IsPrivate:   body.IsPrivate,
	})
	if err != nil {
		h.writeError(w, "workspace.channel.create.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, channelEnvelope{Channel: toChannelResponse(c)})
}

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	cs, err := h.svc.ListChannels(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, "workspace.channel.list.fail", err)
		return
	}
	out := make([]channelResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toChannelResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, channelsResponse{Channels: out})
}

func (h *Handler) handleAddChannelMember(w http.ResponseWriter, r *http.Request) {
	actor := guard.FromContext(r.Context()).UserID()

	var body channelMemberRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	c, err := h.svc.AddChannelMember(r.Context(), actor, r.PathValue("id"), body.UserID)
	if err != nil {
		h.writeError(w, "workspace.channel.member.add.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, channelEnvelope{Channel: toChannelResponse(c)})
}
