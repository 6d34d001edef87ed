package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Role changes and removals lock the workspace row (FOR NO KEY UPDATE), so
//     they are serialized per workspace while invite joins keep flowing.
//   - channel_members references workspace_members (workspace_id, user_id),
//     so the subset invariant holds even for writers outside this package.
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
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("workspace: invalid schema identifier")
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
		return nil, fmt.Errorf("workspace: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) workspaces() string     { return pgIdent(s.schema, "workspaces") }
func (s *PostgresStore) members() string        { return pgIdent(s.schema, "workspace_members") }
func (s *PostgresStore) channels() string       { return pgIdent(s.schema, "channels") }
func (s *PostgresStore) channelMembers() string { return pgIdent(s.schema, "channel_members") }

const workspaceColumns = `id, name, description, avatar, owner_id, COALESCE(invite_code, ''), created_at, updated_at`

const channelColumns = `id, workspace_id, name, description, type, is_private, created_by, last_activity_at, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, in NewWorkspace) (Workspace, error) {
	const op = "workspace.CreateWorkspace"

	var out Workspace
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO `+s.workspaces()+` (id, name, description, avatar, owner_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)
			 RETURNING `+workspaceColumns,
			in.ID, in.Name, in.Description, in.Avatar, in.OwnerID, in.Now,
		)
		w, err := scanWorkspace(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.members()+` (workspace_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			in.ID, in.OwnerID, string(RoleAdmin), in.Now,
		); err != nil {
			return err
		}
		w.Members = []Member{{UserID: in.OwnerID, Role: RoleAdmin, JoinedAt: in.Now}}
		out = w
		return nil
	})
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Workspace{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return Workspace{}, notFound(op, "owner")
		}
		return Workspace{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	return s.loadWorkspace(ctx, s.pool, "workspace.GetWorkspace", `id = $1`, id, false)
}

func (s *PostgresStore) FindByInviteCode(ctx context.Context, code string) (Workspace, error) {
	if code == "" {
		return Workspace{}, notFound("workspace.FindByInviteCode", "workspace")
	}
	return s.loadWorkspace(ctx, s.pool, "workspace.FindByInviteCode", `invite_code = $1`, code, false)
}

func (s *PostgresStore) loadWorkspace(ctx context.Context, q querier, op, where, arg string, forUpdate bool) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	sql := `SELECT ` + workspaceColumns + ` FROM ` + s.workspaces() + ` WHERE ` + where
	if forUpdate {
		sql += ` FOR NO KEY UPDATE`
	}
	w, err := scanWorkspace(q.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workspace{}, notFound(op, "workspace")
		}
		return Workspace{}, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := q.Query(ctx,
		`SELECT user_id, role, joined_at FROM `+s.members()+`
		 WHERE workspace_id = $1
		 ORDER BY joined_at ASC, user_id ASC`,
		w.ID,
	)
	if err != nil {
		return Workspace{}, fmt.Errorf("%s: members: %w", op, err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		var (
			m    Member
			role string
		)
		err := row.Scan(&m.UserID, &role, &m.JoinedAt)
		m.Role = Role(role)
		return m, err
	})
	if err != nil {
		return Workspace{}, fmt.Errorf("%s: members: %w", op, err)
	}
	w.Members = members
	return w, nil
}

func (s *PostgresStore) SetInviteCode(ctx context.Context, workspaceID, code string, now time.Time) error {
	const op = "workspace.SetInviteCode"
	if err := ctx.Err(); err != nil {
		return err
	}

	var arg any
	if code != "" {
		arg = code
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.workspaces()+` SET invite_code = $2, updated_at = $3 WHERE id = $1`,
		workspaceID, arg, now,
	)
	if err != nil {
		if _, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: "invite_code"}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, "workspace")
	}
	return nil
}

// AddMember is a single INSERT ... ON CONFLICT DO NOTHING: concurrent joins of
// the same user produce one row and exactly one caller sees added == true.
func (s *PostgresStore) AddMember(ctx context.Context, workspaceID, userID string, role Role, now time.Time) (bool, error) {
	const op = "workspace.AddMember"
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.members()+` (workspace_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workspace_id, user_id) DO NOTHING`,
		workspaceID, userID, string(role), now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return false, notFound(op, "workspace")
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, in MemberChange) (Workspace, error) {
	const op = "workspace.UpdateMemberRole"
	role := in.Role
	return s.changeMember(ctx, op, in, &role, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE `+s.members()+` SET role = $3 WHERE workspace_id = $1 AND user_id = $2`,
			in.WorkspaceID, in.TargetID, string(role),
		)
		return err
	})
}

func (s *PostgresStore) RemoveMember(ctx context.Context, in MemberChange) (Workspace, error) {
	const op = "workspace.RemoveMember"
	return s.changeMember(ctx, op, in, nil, func(tx pgx.Tx) error {
		// channel_members rows go with it via ON DELETE CASCADE.
		_, err := tx.Exec(ctx,
			`DELETE FROM `+s.members()+` WHERE workspace_id = $1 AND user_id = $2`,
			in.WorkspaceID, in.TargetID,
		)
		return err
	})
}

func (s *PostgresStore) changeMember(ctx context.Context, op string, in MemberChange, next *Role, apply func(pgx.Tx) error) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	var out Workspace
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		w, err := s.loadWorkspace(ctx, tx, op, `id = $1`, in.WorkspaceID, true)
		if err != nil {
			return err
		}
		if err := CheckMemberChange(op, w, in.ActorID, in.TargetID, next); err != nil {
			return err
		}
		if err := apply(tx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.workspaces()+` SET updated_at = $2 WHERE id = $1`,
			in.WorkspaceID, in.Now,
		); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		out, err = s.loadWorkspace(ctx, tx, op, `id = $1`, in.WorkspaceID, false)
		return err
	})
	if err != nil {
		return Workspace{}, err
	}
	return out, nil
}

func (s *PostgresStore) CreateChannel(ctx context.Context, in NewChannel) (Channel, error) {
	const op = "workspace.CreateChannel"
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}

	var out Channel
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO `+s.channels()+` (id, workspace_id, name, description, type, is_private, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+channelColumns,
			in.ID, in.WorkspaceID, in.Name, in.Description, string(in.Type), in.IsPrivate, in.CreatedBy, in.Now,
		)
		c, err := scanChannel(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.channelMembers()+` (channel_id, workspace_id, user_id, added_at) VALUES ($1, $2, $3, $4)`,
			in.ID, in.WorkspaceID, in.CreatedBy, in.Now,
		); err != nil {
			if pgIsForeignKeyViolation(err) {
				return opErr(op, ErrNotWorkspaceMember, "creator")
			}
			return err
		}
		c.Members = []string{in.CreatedBy}
		out = c
		return nil
	})
	if err != nil {
		if IsNotWorkspaceMember(err) {
			return Channel{}, err
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Channel{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return Channel{}, notFound(op, "workspace")
		}
		return Channel{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	const op = "workspace.GetChannel"
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	c, err := scanChannel(s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM `+s.channels()+` WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, notFound(op, "channel")
		}
		return Channel{}, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+s.channelMembers()+` WHERE channel_id = $1 ORDER BY added_at ASC, user_id ASC`, id,
	)
	if err != nil {
		return Channel{}, fmt.Errorf("%s: members: %w", op, err)
	}
	c.Members, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Channel{}, fmt.Errorf("%s: members: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	const op = "workspace.ListChannels"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.workspaces()+` WHERE id = $1)`, workspaceID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, notFound(op, "workspace")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM `+s.channels()+`
		 WHERE workspace_id = $1
		 ORDER BY created_at ASC, id ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	channels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Channel, error) {
		return scanChannel(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mrows, err := s.pool.Query(ctx,
		`SELECT channel_id, user_id FROM `+s.channelMembers()+`
		 WHERE workspace_id = $1
		 ORDER BY added_at ASC, user_id ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: members: %w", op, err)
	}
	byChannel := make(map[string][]string, len(channels))
	var channelID, userID string
	if _, err := pgx.ForEachRow(mrows, []any{&channelID, &userID}, func() error {
		byChannel[channelID] = append(byChannel[channelID], userID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%s: members: %w", op, err)
	}
	for i := range channels {
		channels[i].Members = byChannel[channels[i].ID]
	}
	return channels, nil
}

// AddChannelMember copies workspace_id from the channel row; the composite
// foreign key then rejects users who are not workspace members.
func (s *PostgresStore) AddChannelMember(ctx context.Context, channelID, userID string, now time.Time) (Channel, bool, error) {
	const op = "workspace.AddChannelMember"
	if err := ctx.Err(); err != nil {
		return Channel{}, false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.channelMembers()+` (channel_id, workspace_id, user_id, added_at)
		 SELECT c.id, c.workspace_id, $2, $3 FROM `+s.channels()+` c WHERE c.id = $1
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID, now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Channel{}, false, opErr(op, ErrNotWorkspaceMember, "target")
		}
		return Channel{}, false, fmt.Errorf("%s: %w", op, err)
	}
	c, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return Channel{}, false, err
	}
	return c, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TouchChannel(ctx context.Context, channelID string, at time.Time) error {
	const op = "workspace.TouchChannel"
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.channels()+`
		 SET last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2)
		 WHERE id = $1`,
		channelID, at,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, "channel")
	}
	return nil
}

func scanWorkspace(row pgx.Row) (Workspace, error) {
	var w Workspace
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Avatar, &w.OwnerID, &w.InviteCode, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		c   Channel
		typ string
	)
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Description, &typ, &c.IsPrivate, &c.CreatedBy, &c.LastActivityAt, &c.CreatedAt)
	c.Type = ChannelType(typ)
	return c, err
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

	switch c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)); {
	case c == "uq_channels_workspace_name":
		return "name", true
	case c == "uq_workspaces_invite_code":
		return "invite_code", true
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
