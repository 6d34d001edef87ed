package guard

import (
	"context"

	"teamsync/cmd/identity"
)

// Principal is either an authenticated identity or the anonymous marker.
// The zero value is anonymous.
type Principal struct {
	identity      identity.Identity
	authenticated bool
}

// Anonymous returns the anonymous Principal.
func Anonymous() Principal { return Principal{} }

// Authenticated wraps a resolved identity.
func Authenticated(u identity.Identity) Principal {
	return Principal{identity: u, authenticated: true}
}

// Identity returns the identity and true, or false for anonymous.
func (p Principal) Identity() (identity.Identity, bool) {
	return p.identity, p.authenticated
}

// IsAnonymous reports whether no identity is attached.
func (p Principal) IsAnonymous() bool { return !p.authenticated }

// UserID is empty for anonymous principals.
func (p Principal) UserID() string {
	if !p.authenticated {
		return ""
	}
	return p.identity.ID
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the attached Principal, or Anonymous when none is.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// CurrentIdentity is the accessor downstream handlers use.
func CurrentIdentity(ctx context.Context) (identity.Identity, bool) {
	return FromContext(ctx).Identity()
}
