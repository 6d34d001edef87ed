package workspace

import (
	"strings"
	"time"
)

// Role is a member's role within a workspace.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// ChannelType is the kind of conversation a channel hosts.
type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVideo ChannelType = "video"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool { return t == ChannelText || t == ChannelVideo }

// Member is one (identity, role) entry of a workspace.
type Member struct {
	UserID   string
	Role     Role
	JoinedAt time.Time
}

// Workspace is a named group of members. InviteCode is empty when the
// workspace has none.
type Workspace struct {
	ID          string
	Name        string
	Description string
	Avatar      string
	OwnerID     string
	InviteCode  string
	Members     []Member // ordered by JoinedAt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member looks up userID's entry.
func (w Workspace) Member(userID string) (Member, bool) {
	for _, m := range w.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// AdminCount is the number of members with RoleAdmin.
func (w Workspace) AdminCount() int {
	n := 0
	for _, m := range w.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// Channel is a conversation scope inside a workspace.
type Channel struct {
	ID             string
	WorkspaceID    string
	Name           string
	Description    string
	Type           ChannelType
	IsPrivate      bool
	Members        []string // ordered by when they were added
	CreatedBy      string
	LastActivityAt *time.Time // nil until the first message

	CreatedAt time.Time
}

// HasMember reports explicit channel membership.
func (c Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// nameKey is the case-insensitive uniqueness key of a channel name.
func nameKey(name string) string { return strings.ToLower(name) }
