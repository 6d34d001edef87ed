package workspace

// IsWorkspaceMember reports whether userID holds any role in w.
func IsWorkspaceMember(userID string, w Workspace) bool {
	if userID == "" {
		return false
	}
	_, ok := w.Member(userID)
	return ok
}

// IsWorkspaceAdmin reports whether userID is an admin of w.
func IsWorkspaceAdmin(userID string, w Workspace) bool {
	m, ok := w.Member(userID)
	return ok && userID != "" && m.Role == RoleAdmin
}

// CanCreateChannel requires membership of any role.
func CanCreateChannel(userID string, w Workspace) bool {
	return IsWorkspaceMember(userID, w)
}

// CanAccessChannel: public channels are open to every workspace member;
// private channels only to explicit channel members, whatever their role.
func CanAccessChannel(userID string, w Workspace, c Channel) bool {
	if userID == "" || c.WorkspaceID != w.ID {
		return false
	}
	if c.IsPrivate {
		return c.HasMember(userID)
	}
	return IsWorkspaceMember(userID, w)
}

// CanPostMessage is CanAccessChannel.
func CanPostMessage(userID string, w Workspace, c Channel) bool {
	return CanAccessChannel(userID, w, c)
}

// CheckMemberChange validates a role change (next != nil) or a removal
// (next == nil) of target by actor against the current state of w.
//
// Stores call it while holding the workspace lock, so the last-admin rule is
// evaluated against the state the mutation is applied to.
func CheckMemberChange(op string, w Workspace, actorID, targetID string, next *Role) error {
	if next != nil && !next.Valid() {
		return opErr(op, ErrInvalidInput, "unknown role")
	}
	if !IsWorkspaceMember(actorID, w) {
		return opErr(op, ErrNotWorkspaceMember, "actor")
	}
	if !IsWorkspaceAdmin(actorID, w) {
		return opErr(op, ErrForbidden, "admin role required")
	}
	target, ok := w.Member(targetID)
	if !ok {
		return notFound(op, "member")
	}
	if target.Role != RoleAdmin {
		return nil
	}
	if next != nil && *next == RoleAdmin {
		return nil
	}
	if w.AdminCount() <= 1 {
		return opErr(op, ErrLastAdmin, "workspace must keep at least one admin")
	}
	return nil
}
