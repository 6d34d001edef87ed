package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"teamsync/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are quoted via pgx.Identifier.
// - The uq_users_email constraint is the only serialization point for signups.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "teamsync").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "teamsync"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) users() string      { return pgIdent(s.schema, "users") }
func (s *PostgresStore) workspaces() string { return pgIdent(s.schema, "user_workspaces") }

const userColumns = `id, name, email, status, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, in InsertInput) (Identity, error) {
	const op = "identity.Insert"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(in.ID) == "" || in.Email == "" || in.Digest == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "incomplete row"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (id, name, email, password_hash, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+userColumns,
		in.ID, in.Name, in.Email, string(in.Digest), string(StatusOffline), now,
	)
	out, err := scanIdentity(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, emailNorm string) (Credentials, error) {
	const op = "identity.FindByEmail"
	return s.findCredentials(ctx, op, `email = $1`, emailNorm)
}

func (s *PostgresStore) FindCredentialsByID(ctx context.Context, id string) (Credentials, error) {
	const op = "identity.FindByID"
	return s.findCredentials(ctx, op, `id = $1`, id)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Identity, error) {
	c, err := s.FindCredentialsByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	return c.Identity, nil
}

func (s *PostgresStore) findCredentials(ctx context.Context, op, where string, arg string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	var (
		u      Identity
		status string
		digest string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+s.users()+` WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Name, &u.Email, &status, &u.CreatedAt, &u.UpdatedAt, &digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, notFound(op)
		}
		return Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	u.Status = Status(status)

	refs, err := s.loadWorkspaces(ctx, u.ID)
	if err != nil {
		return Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	u.Workspaces = refs

	return Credentials{Identity: u, Digest: password.Digest(digest)}, nil
}

func (s *PostgresStore) loadWorkspaces(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id FROM `+s.workspaces()+`
		 WHERE user_id = $1
		 ORDER BY added_at ASC, workspace_id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) UpdatePresence(ctx context.Context, id string, status Status, now time.Time) error {
	const op = "identity.UpdatePresence"
	if !status.Valid() {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown status"}
	}
	return s.execOne(ctx, op,
		`UPDATE `+s.users()+` SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), now,
	)
}

func (s *PostgresStore) UpdateDigest(ctx context.Context, id string, digest password.Digest, now time.Time) error {
	const op = "identity.UpdateDigest"
	if digest == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty digest"}
	}
	return s.execOne(ctx, op,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, string(digest), now,
	)
}

// UpdateProfile relies on uq_users_email: a row never conflicts with itself, so
// keeping the current email is not a conflict while taking another user's is.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Identity, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	now := patch.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		 SET name = COALESCE($2, name),
		     email = COALESCE($3, email),
		     updated_at = $4
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, patch.Name, patch.Email, now,
	)
	out, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	refs, err := s.loadWorkspaces(ctx, id)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	out.Workspaces = refs
	return out, nil
}

func (s *PostgresStore) AddWorkspace(ctx context.Context, id, workspaceID string, now time.Time) error {
	const op = "identity.AddWorkspace"

	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.workspaces()+` (user_id, workspace_id, added_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, workspace_id) DO NOTHING`,
		id, workspaceID, now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return notFound(op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) RemoveWorkspace(ctx context.Context, id, workspaceID string) error {
	const op = "identity.RemoveWorkspace"

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.workspaces()+` WHERE user_id = $1 AND workspace_id = $2`,
		id, workspaceID,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) execOne(ctx context.Context, op, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		u      Identity
		status string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return Identity{}, err
	}
	u.Status = Status(status)
	return u, nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
