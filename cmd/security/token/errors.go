package token

import (
	"errors"
	"fmt"
)

// Key configuration errors.
var (
	ErrKeyMissing  = errors.New("token signing key missing")
	ErrKeyTooShort = errors.New("token signing key too short")
)

// Verification failure kinds. A *VerifyError matches exactly one of these via errors.Is.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Kind classifies a verification failure.
type Kind uint8

const (
	KindMalformed Kind = iota + 1
	KindExpired
	KindSignatureInvalid
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindExpired:
		return "expired"
	case KindSignatureInvalid:
		return "signature_invalid"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindExpired:
		return ErrExpired
	case KindSignatureInvalid:
		return ErrSignatureInvalid
	default:
		return ErrMalformed
	}
}

// VerifyError is returned by Codec.Parse.
type VerifyError struct {
	Kind Kind
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token: %s", e.Kind)
	}
	return fmt.Sprintf("token: %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf extracts the failure kind from err, or 0 if err is not a *VerifyError.
func KindOf(err error) Kind {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}
