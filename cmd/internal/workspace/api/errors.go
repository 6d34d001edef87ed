package workspaceapi

import (
	"errors"
	"net/http"

	"teamsync/cmd/internal/httpx"
	"teamsync/cmd/internal/workspace"
)

// writeError maps workspace error kinds onto the HTTP taxonomy.
func (h *Handler) writeError(w http.ResponseWriter, event string, err error) {
	if httpx.WriteValidation(w, err) {
		return
	}
	switch {
	case workspace.IsInvalidInvite(err):
		httpx.WriteError(w, http.StatusNotFound, "invalid_invite", "Invalid or expired invite code.")
	case workspace.IsNotWorkspaceMember(err):
		httpx.WriteError(w, http.StatusForbidden, "not_workspace_member", "You are not a member of this workspace.")
	case workspace.IsForbidden(err):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "You do not have permission to do that.")
	case workspace.IsLastAdmin(err):
		httpx.WriteError(w, http.StatusConflict, "last_admin", "A workspace must keep at least one admin.")
	case workspace.IsConflict(err):
		httpx.WriteError(w, http.StatusConflict, "conflict", conflictMessage(err))
	case workspace.IsNotFound(err):
		httpx.WriteError(w, http.StatusNotFound, "not_found", notFoundMessage(err))
	case workspace.IsInvalidInput(err):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		httpx.WriteInternal(w, h.log, event, err)
	}
}

func conflictMessage(err error) string {
	var ce workspace.ConflictError
	if errors.As(err, &ce) && ce.Field == "name" {
		return "A channel with this name already exists in this workspace."
	}
	return "resource already exists"
}

func notFoundMessage(err error) string {
	var nf workspace.NotFoundError
	if errors.As(err, &nf) {
		switch nf.Resource {
		case "workspace":
			return "Workspace not found."
		case "channel":
			return "Channel not found."
		case "member":
			return "Member not found."
		}
	}
	return "not found"
}
