package workspace

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrNotWorkspaceMember = errors.New("not_workspace_member")
	ErrInvalidInvite      = errors.New("invalid_invite")
	ErrLastAdmin          = errors.New("last_admin")
)

// OpError is a typed operation error with a stable Op + Kind contract.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict on a logical field
// ("name" for channels, "invite_code" for workspaces).
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing workspace, channel or member.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(op, resource string) error { return NotFoundError{Op: op, Resource: resource} }

func opErr(op string, kind error, msg string) error { return OpError{Op: op, Kind: kind, Msg: msg} }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsNotWorkspaceMember reports whether err represents ErrNotWorkspaceMember.
func IsNotWorkspaceMember(err error) bool { return errors.Is(err, ErrNotWorkspaceMember) }

// IsInvalidInvite reports whether err represents ErrInvalidInvite.
func IsInvalidInvite(err error) bool { return errors.Is(err, ErrInvalidInvite) }

// IsLastAdmin reports whether err represents ErrLastAdmin.
func IsLastAdmin(err error) bool { return errors.Is(err, ErrLastAdmin) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
