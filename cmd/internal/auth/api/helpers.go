package authapi

import (
	"teamsync/cmd/identity"
)

func toUserResponse(u identity.Identity) userResponse {
	ws := u.Workspaces
	if ws == nil {
		ws = []string{}
	}
	return userResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Status:     string(u.Status),
		Workspaces: ws,
		CreatedAt:  u.CreatedAt,
	}
}
