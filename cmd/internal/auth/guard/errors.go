package guard

import (
	"errors"

	"teamsync/cmd/security/token"
)

// ErrUnauthenticated is the kind every *UnauthenticatedError matches.
var ErrUnauthenticated = errors.New("unauthenticated")

// Reason says why authentication failed. Values double as metric labels.
type Reason string

const (
	ReasonMissingCredential   Reason = "missing_credential"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonTokenExpired        Reason = "token_expired"
	ReasonTokenInvalid        Reason = "token_invalid"
	ReasonUserNotFound        Reason = "user_not_found"
)

// UnauthenticatedError is a rejected credential. Kind is set when the token
// itself failed verification.
type UnauthenticatedError struct {
	Reason Reason
	Kind   token.Kind
	Err    error
}

func (e *UnauthenticatedError) Error() string {
	if e.Err == nil {
		return "guard: " + string(e.Reason)
	}
	return "guard: " + string(e.Reason) + ": " + e.Err.Error()
}

func (e *UnauthenticatedError) Unwrap() error { return ErrUnauthenticated }

// Message is the user-facing text for the reason.
func (e *UnauthenticatedError) Message() string {
	switch e.Reason {
	case ReasonMissingCredential:
		return "No token provided. Authorization denied."
	case ReasonMalformedCredential:
		return "Invalid token format."
	case ReasonTokenExpired:
		return "Token expired. Please login again."
	case ReasonUserNotFound:
		return "User not found. Authorization denied."
	default:
		return "Invalid token. Authorization denied."
	}
}

// ReasonOf returns the reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ue *UnauthenticatedError
	if !errors.As(err, &ue) {
		return "", false
	}
	return ue.Reason, true
}
