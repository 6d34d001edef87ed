// Package app wires the TeamSync server runtime: config, logging, stores, HTTP
// routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"teamsync/cmd/identity"
	authapi "teamsync/cmd/internal/auth/api"
	"teamsync/cmd/internal/auth/guard"
	"teamsync/cmd/internal/auth/session"
	"teamsync/cmd/internal/realtime"
	"teamsync/cmd/internal/telemetry"
	"teamsync/cmd/internal/workspace"
	workspaceapi "teamsync/cmd/internal/workspace/api"
	"teamsync/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the HTTP server wiring and every long-lived dependency.
type App struct {
	cfg Config
	log Logger

	// pool is nil in in-memory mode.
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics

	auth       *authapi.Handler
	workspaces *workspaceapi.Handler
	ws         *realtime.WSGateway

	handler http.Handler
}

// New constructs a fully wired App. With an empty DatabaseURL every store is
// in-memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		return nil, errors.New("app: nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: telemetry.New()}

	users, spaces, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password, password.WithObserver(a.metrics.ObservePassword))
	if err != nil {
		a.close()
		return nil, err
	}
	accounts, err := identity.NewService(users, hasher, identity.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}
	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		a.close()
		return nil, err
	}
	g, err := guard.New(sessions, accounts, guard.WithLogger(log), guard.WithObserver(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}
	wsvc, err := workspace.NewService(spaces, accounts, workspace.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	if a.auth, err = authapi.NewHandler(cfg.Auth, accounts, sessions, g, authapi.WithLogger(log)); err != nil {
		a.close()
		return nil, err
	}
	if a.workspaces, err = workspaceapi.NewHandler(wsvc, g, workspaceapi.WithLogger(log), workspaceapi.WithMaxBodyBytes(cfg.Auth.MaxBodyBytes)); err != nil {
		a.close()
		return nil, err
	}
	if a.ws, err = realtime.NewWSGateway(cfg.Realtime, g, wsvc, realtime.WithLogger(log), realtime.WithMetrics(a.metrics)); err != nil {
		a.close()
		return nil, err
	}

	a.handler = WithRequestLogging(WithSecurityHeaders(a.routes()), log, a.metrics)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (identity.Store, workspace.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), workspace.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.close()
		return nil, nil, err
	}
	spaces, err := workspace.NewPostgresStore(pool, workspace.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.close()
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.AutoMigrate)
	return users, spaces, nil
}

// Handler returns the fully wrapped root handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests for up to ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.close()
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	a.log.Info("server.start", "addr", ln.Addr().String(), "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		if err != nil {
			a.log.Error("server.fail", "err", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
