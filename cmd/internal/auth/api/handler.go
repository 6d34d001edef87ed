// Package authapi serves the signup, login and profile endpoints.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"teamsync/cmd/identity"
	"teamsync/cmd/internal/auth/guard"
	"teamsync/cmd/internal/auth/session"
	"teamsync/cmd/internal/httpx"
	"teamsync/cmd/internal/ratelimit"
)

// Accounts is the identity surface the handlers need. *identity.Service satisfies it.
type Accounts interface {
	CreateIdentity(ctx context.Context, in identity.SignupInput) (identity.Identity, error)
	Login(ctx context.Context, email, pw string) (identity.Identity, error)
	Logout(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, in identity.ProfileUpdate) (identity.Identity, error)
	ChangePassword(ctx context.Context, id, current, next string) error
}

// Issuer mints session tokens. *session.Manager satisfies it.
type Issuer interface {
	Issue(userID string, now time.Time) (session.Issued, error)
}

// Authenticator wraps handlers that need a verified identity. *guard.Guard satisfies it.
type Authenticator interface {
	Require(next http.Handler) http.Handler
}

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config
	now func() time.Time

	accounts Accounts
	sessions Issuer
	auth     Authenticator
	throttle *ratelimit.Keyed
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, accounts Accounts, sessions Issuer, auth Authenticator, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil || sessions == nil || auth == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		accounts: accounts,
		sessions: sessions,
		auth:     auth,
		throttle: ratelimit.NewKeyed(cfg.LoginMaxAttempts, cfg.LoginWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("GET /auth/me", h.auth.Require(http.HandlerFunc(h.handleMe)))
	mux.Handle("PUT /auth/profile", h.auth.Require(http.HandlerFunc(h.handleProfile)))
	mux.Handle("PUT /auth/password", h.auth.Require(http.HandlerFunc(h.handlePassword)))
	mux.Handle("POST /auth/logout", h.auth.Require(http.HandlerFunc(h.handleLogout)))
}

// ---- handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowAttempt(w, r, now) {
		return
	}

	var req signupRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := h.accounts.CreateIdentity(ctx, identity.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case httpx.WriteValidation(w, err):
		case identity.IsDuplicateEmail(err):
			httpx.WriteError(w, http.StatusConflict, "duplicate_email", "User with this email already exists.")
		default:
			httpx.WriteInternal(w, h.log, "auth.signup.fail", err)
		}
		return
	}

	issued, err := h.sessions.Issue(u.ID, now)
	if err != nil {
		httpx.WriteInternal(w, h.log, "auth.signup.token.fail", err, "user_id", u.ID)
		return
	}
	h.log.Info("auth.signup.ok", "user_id", u.ID)
	httpx.WriteJSON(w, http.StatusCreated, authResponse{
		User:      toUserResponse(u),
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowAttempt(w, r, now) {
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case httpx.WriteValidation(w, err):
		case identity.IsInvalidCredentials(err):
			h.log.Info("auth.login.fail", "reason", "invalid_credentials")
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
		default:
			httpx.WriteInternal(w, h.log, "auth.login.error", err)
		}
		return
	}

	issued, err := h.sessions.Issue(u.ID, now)
	if err != nil {
		httpx.WriteInternal(w, h.log, "auth.login.token.fail", err, "user_id", u.ID)
		return
	}
	h.log.Info("auth.login.ok", "user_id", u.ID)
	httpx.WriteJSON(w, http.StatusOK, authResponse{
		User:      toUserResponse(u),
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := guard.CurrentIdentity(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "No token provided. Authorization denied.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	me, ok := guard.CurrentIdentity(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "No token provided. Authorization denied.")
		return
	}

	var req profileRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.accounts.UpdateProfile(r.Context(), me.ID, identity.ProfileUpdate{Name: req.Name, Email: req.Email})
	if err != nil {
		switch {
		case httpx.WriteValidation(w, err):
		case identity.IsDuplicateEmail(err):
			httpx.WriteError(w, http.StatusConflict, "duplicate_email", "Email already in use by another account.")
		case identity.IsNotFound(err):
			httpx.WriteError(w, http.StatusNotFound, "not_found", "User not found.")
		default:
			httpx.WriteInternal(w, h.log, "auth.profile.fail", err, "user_id", me.ID)
		}
		return
	}
	h.log.Info("auth.profile.ok", "user_id", me.ID)
	httpx.WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	me, ok := guard.CurrentIdentity(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "No token provided. Authorization denied.")
		return
	}

	var req passwordRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	err := h.accounts.ChangePassword(r.Context(), me.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case httpx.WriteValidation(w, err):
		case identity.IsInvalidCredentials(err):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Current password is incorrect.")
		case identity.IsNotFound(err):
			httpx.WriteError(w, http.StatusNotFound, "not_found", "User not found.")
		default:
			httpx.WriteInternal(w, h.log, "auth.password.fail", err, "user_id", me.ID)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	me, ok := guard.CurrentIdentity(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "No token provided. Authorization denied.")
		return
	}
	if err := h.accounts.Logout(r.Context(), me.ID); err != nil {
		if identity.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "User not found.")
			return
		}
		httpx.WriteInternal(w, h.log, "auth.logout.fail", err, "user_id", me.ID)
		return
	}
	h.log.Info("auth.logout.ok", "user_id", me.ID)
	w.WriteHeader(http.StatusNoContent)
}
