package workspace

import (
	"errors"
	"testing"
)

func sampleWorkspace() Workspace {
	return Workspace{
		ID: "w1",
		Members: []Member{
			{UserID: "alice", Role: RoleAdmin},
			{UserID: "bob", Role: RoleMember},
			{UserID: "carol", Role: RoleMember},
		},
	}
}

func TestMembershipPredicates(t *testing.T) {
	t.Parallel()
	w := sampleWorkspace()

	cases := []struct {
		user          string
		member, admin bool
	}{
		{"alice", true, true},
		{"bob", true, false},
		{"mallory", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		if got := IsWorkspaceMember(tc.user, w); got != tc.member {
			t.Fatalf("IsWorkspaceMember(%q) = %v", tc.user, got)
		}
		if got := IsWorkspaceAdmin(tc.user, w); got != tc.admin {
			t.Fatalf("IsWorkspaceAdmin(%q) = %v", tc.user, got)
		}
		if got := CanCreateChannel(tc.user, w); got != tc.member {
			t.Fatalf("CanCreateChannel(%q) = %v", tc.user, got)
		}
	}
}

func TestCanAccessChannel(t *testing.T) {
	t.Parallel()
	w := sampleWorkspace()
	public := Channel{ID: "c1", WorkspaceID: "w1", Members: []string{"bob"}}
	private := Channel{ID: "c2", WorkspaceID: "w1", IsPrivate: true, Members: []string{"bob"}}
	foreign := Channel{ID: "c3", WorkspaceID: "w2", Members: []string{"alice"}}

	cases := []struct {
		name string
		user string
		c    Channel
		want bool
	}{
		{"public, workspace member not in channel", "carol", public, true},
		{"public, outsider", "mallory", public, false},
		{"private, channel member", "bob", private, true},
		{"private, workspace admin not in channel", "alice", private, false},
		{"private, workspace member not in channel", "carol", private, false},
		{"private, outsider", "mallory", private, false},
		{"channel of another workspace", "alice", foreign, false},
		{"anonymous", "", public, false},
	}
	for _, tc := range cases {
		if got := CanAccessChannel(tc.user, w, tc.c); got != tc.want {
			t.Fatalf("%s: CanAccessChannel = %v, want %v", tc.name, got, tc.want)
		}
		if got := CanPostMessage(tc.user, w, tc.c); got != tc.want {
			t.Fatalf("%s: CanPostMessage = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckMemberChange(t *testing.T) {
	t.Parallel()

	admin, member, bogus := RoleAdmin, RoleMember, Role("owner")
	single := sampleWorkspace()
	double := sampleWorkspace()
	double.Members[1].Role = RoleAdmin

	cases := []struct {
		name   string
		w      Workspace
		actor  string
		target string
		next   *Role
		want   error
	}{
		{"demote sole admin", single, "alice", "alice", &member, ErrLastAdmin},
		{"remove sole admin", single, "alice", "alice", nil, ErrLastAdmin},
		{"demote one of two admins", double, "alice", "bob", &member, nil},
		{"remove one of two admins", double, "bob", "alice", nil, nil},
		{"promote member", single, "alice", "bob", &admin, nil},
		{"re-affirm sole admin", single, "alice", "alice", &admin, nil},
		{"remove member", single, "alice", "carol", nil, nil},
		{"member cannot change roles", single, "bob", "carol", &admin, ErrForbidden},
		{"outsider", single, "mallory", "bob", nil, ErrNotWorkspaceMember},
		{"unknown target", single, "alice", "mallory", nil, ErrNotFound},
		{"unknown role", single, "alice", "bob", &bogus, ErrInvalidInput},
	}
	for _, tc := range cases {
		err := CheckMemberChange("test", tc.w, tc.actor, tc.target, tc.next)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}
