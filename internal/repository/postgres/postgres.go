package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
)

// Repository implements the catalog persistence interfaces on PostgreSQL.
// The catalog lives in the meta schema; uniqueness and referential
// invariants are enforced by the schema itself so concurrent writers cannot
// violate them.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TeamRepository       = (*Repository)(nil)
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.MembershipRepository = (*Repository)(nil)
	_ repository.TableRepository      = (*Repository)(nil)
	_ repository.UsageRepository      = (*Repository)(nil)
)

// CreateTeam inserts a team row and fills in its generated id.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO meta.teams (name, schema_name)
		VALUES ($1, $2)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, team.Name, team.SchemaName).
		Scan(&team.ID, &team.CreatedAt)
	return mapPgError(err)
}

// GetTeamByID fetches a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, id int64) (*domain.Team, error) {
	const query = `SELECT id, name, schema_name, created_at FROM meta.teams WHERE id = $1`
	return scanTeam(r.pool.QueryRow(ctx, query, id))
}

// GetTeamByName fetches a team by display name.
func (r *Repository) GetTeamByName(ctx context.Context, name string) (*domain.Team, error) {
	const query = `SELECT id, name, schema_name, created_at FROM meta.teams WHERE name = $1`
	return scanTeam(r.pool.QueryRow(ctx, query, name))
}

// ListTeams returns every team ordered by id.
func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	const query = `SELECT id, name, schema_name, created_at FROM meta.teams ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	return collectTeams(rows)
}

// ListTeamsByUser returns the teams reachable from a user's membership edges.
func (r *Repository) ListTeamsByUser(ctx context.Context, userID int64) ([]domain.Team, error) {
	const query = `SELECT t.id, t.name, t.schema_name, t.created_at
		FROM meta.teams t
		INNER JOIN meta.team_members tm ON t.id = tm.team_id
		WHERE tm.user_id = $1
		ORDER BY t.id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	return collectTeams(rows)
}

// CreateUser inserts a user row and fills in its generated id.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO meta.users (username, password_hash, is_admin)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, user.Username, user.PasswordHash, user.IsAdmin).
		Scan(&user.ID, &user.CreatedAt)
	return mapPgError(err)
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT id, username, password_hash, is_admin, created_at
		FROM meta.users WHERE username = $1`
	row := r.pool.QueryRow(ctx, query, username)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

// ListUsers returns every user ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT id, username, password_hash, is_admin, created_at
		FROM meta.users ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		users = append(users, u)
	}
	return users, mapPgError(rows.Err())
}

// DeleteUser removes a user row. Membership edges cascade away with it.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	const query = `DELETE FROM meta.users WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddMember inserts a membership edge, reporting false when the edge was
// already present.
func (r *Repository) AddMember(ctx context.Context, userID, teamID int64) (bool, error) {
	const query = `INSERT INTO meta.team_members (user_id, team_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, team_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, userID, teamID)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListMemberUsernames returns the usernames of a team's members.
func (r *Repository) ListMemberUsernames(ctx context.Context, teamID int64) ([]string, error) {
	const query = `SELECT u.username
		FROM meta.users u
		INNER JOIN meta.team_members tm ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY u.username`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapPgError(err)
		}
		names = append(names, name)
	}
	return names, mapPgError(rows.Err())
}

// ListTables returns every cataloged table ordered by schema and name.
func (r *Repository) ListTables(ctx context.Context) ([]domain.TableRecord, error) {
	const query = `SELECT id, team_id, table_name, schema_name, created_by, created_at, updated_at
		FROM meta.tables ORDER BY schema_name, table_name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	return collectTables(rows)
}

// ListTablesByTeam returns the cataloged tables owned by one team.
func (r *Repository) ListTablesByTeam(ctx context.Context, teamID int64) ([]domain.TableRecord, error) {
	const query = `SELECT id, team_id, table_name, schema_name, created_by, created_at, updated_at
		FROM meta.tables WHERE team_id = $1 ORDER BY table_name`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	return collectTables(rows)
}

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var t domain.Team
	if err := row.Scan(&t.ID, &t.Name, &t.SchemaName, &t.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	return &t, nil
}

func collectTeams(rows pgx.Rows) ([]domain.Team, error) {
	var teams []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.SchemaName, &t.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		teams = append(teams, t)
	}
	return teams, mapPgError(rows.Err())
}

func collectTables(rows pgx.Rows) ([]domain.TableRecord, error) {
	var tables []domain.TableRecord
	for rows.Next() {
		var tr domain.TableRecord
		if err := rows.Scan(&tr.ID, &tr.TeamID, &tr.TableName, &tr.SchemaName, &tr.CreatedBy, &tr.CreatedAt, &tr.UpdatedAt); err != nil {
			return nil, mapPgError(err)
		}
		tables = append(tables, tr)
	}
	return tables, mapPgError(rows.Err())
}

// mapPgError translates driver failures into the repository's vocabulary.
// Constraint violations become conflicts or missing references; connection
// loss, timeouts and SQLSTATE class 08 become transient failures the caller
// may retry.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return repository.ErrConflict
		case pgErr.Code == "23503":
			return repository.ErrNotFound
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}
