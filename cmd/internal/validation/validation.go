// Package validation accumulates field-level input errors so a request can
// report every problem at once instead of failing on the first.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalid is the kind every *Error matches via errors.Is.
var ErrInvalid = errors.New("validation_failed")

// FieldError is a single user-correctable problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries all field errors for one operation. Kind, when set, is an
// additional package-specific sentinel the error also matches.
type Error struct {
	Op     string
	Kind   error
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvalid, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Kind}
}

// Message returns the first field message, or a generic one.
func (e *Error) Message() string {
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	return e.Fields[0].Message
}

// Errors is a collector. The zero value is ready to use.
type Errors struct {
	fields []FieldError
}

// Add records a problem for field.
func (v *Errors) Add(field, msg string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: msg})
}

// Has reports whether field already has an error.
func (v *Errors) Has(field string) bool {
	for _, f := range v.fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Empty reports whether nothing was recorded.
func (v *Errors) Empty() bool { return len(v.fields) == 0 }

// Err returns nil when empty, otherwise an *Error tagged with op and kind.
func (v *Errors) Err(op string, kind error) error {
	if len(v.fields) == 0 {
		return nil
	}
	out := make([]FieldError, len(v.fields))
	copy(out, v.fields)
	return &Error{Op: op, Kind: kind, Fields: out}
}

// RuneLen checks min <= runes(s) <= max and records msg otherwise.
func (v *Errors) RuneLen(field, s string, minLen, maxLen int, msg string) {
	n := utf8.RuneCountInString(s)
	if n < minLen || n > maxLen {
		v.Add(field, msg)
	}
}

// Fields extracts field errors from err, if it is an *Error.
func Fields(err error) ([]FieldError, bool) {
	var ve *Error
	if !errors.As(err, &ve) {
		return nil, false
	}
	return ve.Fields, true
}
