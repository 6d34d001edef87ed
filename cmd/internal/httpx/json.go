// Package httpx holds the JSON envelope shared by every HTTP handler.
//
// Errors are always {"error":{"code","message"}}, with "fields" added for
// validation failures. Internal failures never leak their text to the client.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"teamsync/cmd/internal/validation"
)

// DefaultMaxBodyBytes bounds request bodies when a handler has no override.
const DefaultMaxBodyBytes int64 = 64 << 10

// InternalMessage is the only text a client sees for an internal failure.
const InternalMessage = "something went wrong"

type apiError struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// WriteJSON writes v with status. Responses are never cached.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// WriteValidation writes a 400 with per-field messages when err carries them.
// It reports false when err is not a validation error.
func WriteValidation(w http.ResponseWriter, err error) bool {
	var ve *validation.Error
	if !errors.As(err, &ve) {
		return false
	}
	WriteJSON(w, http.StatusBadRequest, errorResponse{Error: apiError{
		Code:    "validation_error",
		Message: ve.Message(),
		Fields:  ve.Fields,
	}})
	return true
}

// WriteInternal logs err under event and answers with a generic 500.
func WriteInternal(w http.ResponseWriter, log *slog.Logger, event string, err error, attrs ...any) {
	if log == nil {
		log = slog.Default()
	}
	log.Error(event, append([]any{"err", err}, attrs...)...)
	WriteError(w, http.StatusInternalServerError, "server_error", InternalMessage)
}

// DecodeJSON reads exactly one JSON object of at most maxBytes into dst and
// rejects unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
