package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"teamsync/cmd/identity"
	"teamsync/cmd/internal/httpx"
	"teamsync/cmd/security/token"
)

// Verifier checks a raw session token. *session.Manager satisfies it.
type Verifier interface {
	Verify(raw string, now time.Time) (token.Claims, error)
}

// Resolver loads the identity named by a verified token.
type Resolver interface {
	FindByID(ctx context.Context, id string) (identity.Identity, error)
}

// Observer receives one call per guard decision.
type Observer interface {
	AuthOutcome(mode, outcome string)
}

const (
	modeMandatory  = "mandatory"
	modeOptional   = "optional"
	modeConnection = "connection"

	outcomeOK        = "ok"
	outcomeAnonymous = "anonymous"
	outcomeError     = "error"
)

// Guard is safe for concurrent use.
type Guard struct {
	verifier Verifier
	users    Resolver
	log      *slog.Logger
	now      func() time.Time
	observer Observer
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithObserver reports outcomes, e.g. to telemetry.Metrics.
func WithObserver(o Observer) Option {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

// New builds a Guard.
func New(v Verifier, users Resolver, opts ...Option) (*Guard, error) {
	if v == nil {
		return nil, errors.New("guard: nil verifier")
	}
	if users == nil {
		return nil, errors.New("guard: nil resolver")
	}
	g := &Guard{
		verifier: v,
		users:    users,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Authenticate is mandatory mode over an Authorization header value.
// Credential failures are *UnauthenticatedError; a failing store is returned
// as-is so the caller can report an internal error.
func (g *Guard) Authenticate(ctx context.Context, header string) (Principal, error) {
	p, err := g.authenticateHeader(ctx, header)
	g.record(modeMandatory, p, err)
	return p, err
}

// AuthenticateOptional is optional mode: any failure yields Anonymous.
func (g *Guard) AuthenticateOptional(ctx context.Context, header string) Principal {
	p, err := g.authenticateHeader(ctx, header)
	if err != nil {
		if _, isAuth := ReasonOf(err); !isAuth {
			g.log.Warn("auth.optional.lookup.fail", "err", err)
		}
		p = Anonymous()
	}
	g.record(modeOptional, p, nil)
	return p
}

// AuthenticateConnection is called once per realtime connection. credential
// may be a bare token or a "Bearer <token>" value; failures yield Anonymous.
func (g *Guard) AuthenticateConnection(ctx context.Context, credential string) Principal {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		g.record(modeConnection, Anonymous(), nil)
		return Anonymous()
	}
	raw := credential
	if tok, _, ok := httpx.BearerToken(credential); ok {
		raw = tok
	}
	p, err := g.resolve(ctx, raw)
	if err != nil {
		g.log.Debug("auth.connection.anonymous", "err", err)
		p = Anonymous()
	}
	g.record(modeConnection, p, nil)
	return p
}

func (g *Guard) authenticateHeader(ctx context.Context, header string) (Principal, error) {
	raw, present, ok := httpx.BearerToken(header)
	switch {
	case !present:
		return Anonymous(), &UnauthenticatedError{Reason: ReasonMissingCredential}
	case !ok:
		return Anonymous(), &UnauthenticatedError{Reason: ReasonMalformedCredential}
	}
	return g.resolve(ctx, raw)
}

func (g *Guard) resolve(ctx context.Context, raw string) (Principal, error) {
	claims, err := g.verifier.Verify(raw, g.now())
	if err != nil {
		kind := token.KindOf(err)
		reason := ReasonTokenInvalid
		if kind == token.KindExpired {
			reason = ReasonTokenExpired
		}
		return Anonymous(), &UnauthenticatedError{Reason: reason, Kind: kind, Err: err}
	}

	u, err := g.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Anonymous(), &UnauthenticatedError{Reason: ReasonUserNotFound}
		}
		return Anonymous(), fmt.Errorf("guard.resolve: %w", err)
	}
	return Authenticated(u), nil
}

func (g *Guard) record(mode string, p Principal, err error) {
	if g.observer == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case err != nil:
		if r, ok := ReasonOf(err); ok {
			outcome = string(r)
		} else {
			outcome = outcomeError
		}
	case p.IsAnonymous():
		outcome = outcomeAnonymous
	}
	g.observer.AuthOutcome(mode, outcome)
}

// Require rejects the request unless a valid credential resolves to an
// existing identity, which is then attached to the request context.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			var ue *UnauthenticatedError
			if errors.As(err, &ue) {
				g.log.Info("auth.guard.reject", "reason", string(ue.Reason), "path", r.URL.Path)
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", ue.Message())
				return
			}
			httpx.WriteInternal(w, g.log, "auth.guard.fail", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional always calls next, with either an authenticated or anonymous Principal.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := g.AuthenticateOptional(r.Context(), r.Header.Get("Authorization"))
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
