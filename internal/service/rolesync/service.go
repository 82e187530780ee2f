// Package rolesync keeps database-level roles, schemas and grants in
// agreement with the catalog. Every primitive is idempotent: after a partial
// failure the operator re-runs the primitive instead of attempting a
// rollback, since role and grant management cannot join the catalog's
// transactions.
package rolesync

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
	"github.com/mskhalsa/EZPostgres-service/pkg/pgident"
)

// Conn is the slice of pgxpool.Pool the synchronizer needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service reconciles database objects with catalog rows.
type Service struct {
	db     Conn
	tables repository.TableRepository
	dbName string
	logger *slog.Logger
}

// New constructs a Service. dbName is the catalog database's own name, needed
// for database-wide administrator grants.
func New(db Conn, tables repository.TableRepository, dbName string, logger *slog.Logger) Service {
	return Service{db: db, tables: tables, dbName: dbName, logger: logger}
}

// EnsureTeamRoleAndSchema creates the team's group role and schema when
// absent and grants the role usage on the schema. Safe to re-run.
func (s Service) EnsureTeamRoleAndSchema(ctx context.Context, team *domain.Team) error {
	if err := pgident.Valid(team.SchemaName); err != nil {
		return fmt.Errorf("ensure team role and schema: %w", err)
	}
	created, err := s.ensureRole(ctx, team.SchemaName, "")
	if err != nil {
		return fmt.Errorf("ensure team role %s: %w", team.SchemaName, err)
	}
	if _, err := s.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+team.SchemaName); err != nil {
		return fmt.Errorf("ensure schema %s: %w", team.SchemaName, err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", team.SchemaName, team.SchemaName)); err != nil {
		return fmt.Errorf("grant usage on %s: %w", team.SchemaName, err)
	}
	s.logger.Info("team role and schema ensured",
		"team", team.Name, "schema", team.SchemaName, "role_created", created)
	return nil
}

// EnsureUserRole creates the user's login role when absent. The credential is
// only applied on creation; existing roles keep their password. The meta
// usage grant runs every time so a re-run repairs a creation that failed
// between the two statements.
func (s Service) EnsureUserRole(ctx context.Context, username, credential string) error {
	role, err := pgident.UserRole(username)
	if err != nil {
		return fmt.Errorf("ensure user role: %w", err)
	}
	created, err := s.ensureRole(ctx, role, credential)
	if err != nil {
		return fmt.Errorf("ensure user role %s: %w", role, err)
	}
	if _, err := s.db.Exec(ctx, "GRANT USAGE ON SCHEMA meta TO "+role); err != nil {
		return fmt.Errorf("grant meta usage to %s: %w", role, err)
	}
	s.logger.Info("user role ensured", "username", username, "role", role, "created", created)
	return nil
}

// GrantMembership grants the team role to the user role, grants usage on the
// team schema and backfills privileges on every table the catalog records
// for the team, so tables deployed before the membership existed become
// accessible too.
func (s Service) GrantMembership(ctx context.Context, user *domain.User, team *domain.Team) error {
	role, err := pgident.UserRole(user.Username)
	if err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	if err := pgident.Valid(team.SchemaName); err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf("GRANT %s TO %s", team.SchemaName, role)); err != nil {
		return fmt.Errorf("grant team role to %s: %w", role, err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", team.SchemaName, role)); err != nil {
		return fmt.Errorf("grant schema usage to %s: %w", role, err)
	}

	tables, err := s.tables.ListTablesByTeam(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("list tables for backfill: %w", err)
	}
	for _, tbl := range tables {
		if err := pgident.Valid(tbl.TableName); err != nil {
			return fmt.Errorf("backfill grant: %w", err)
		}
		grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON TABLE %s.%s TO %s",
			team.SchemaName, tbl.TableName, role)
		if _, err := s.db.Exec(ctx, grant); err != nil {
			return fmt.Errorf("backfill grant on %s.%s: %w", team.SchemaName, tbl.TableName, err)
		}
	}
	s.logger.Info("membership granted",
		"username", user.Username, "team", team.Name, "tables_backfilled", len(tables))
	return nil
}

// GrantAdministrator grants database-wide privileges to the user's role.
// Callers must have confirmed the administrator flag against the catalog
// before invoking this.
func (s Service) GrantAdministrator(ctx context.Context, user *domain.User) error {
	role, err := pgident.UserRole(user.Username)
	if err != nil {
		return fmt.Errorf("grant administrator: %w", err)
	}
	if err := pgident.Valid(s.dbName); err != nil {
		return fmt.Errorf("grant administrator: %w", err)
	}
	statements := []string{
		fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", s.dbName, role),
		"GRANT ALL PRIVILEGES ON SCHEMA meta TO " + role,
		"GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA meta TO " + role,
		"GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA meta TO " + role,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("administrator grant %q: %w", stmt, err)
		}
	}
	s.logger.Info("administrator privileges granted", "username", user.Username, "role", role)
	return nil
}

// RevokeUser drops everything the user's role owns and then the role itself.
// A role that is already gone is success, so re-running after a partial
// failure converges.
func (s Service) RevokeUser(ctx context.Context, username string) error {
	role, err := pgident.UserRole(username)
	if err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	exists, err := s.roleExists(ctx, role)
	if err != nil {
		return fmt.Errorf("revoke user %s: %w", role, err)
	}
	if !exists {
		s.logger.Info("user role already absent", "username", username, "role", role)
		return nil
	}
	if _, err := s.db.Exec(ctx, "DROP OWNED BY "+role); err != nil {
		return fmt.Errorf("drop objects owned by %s: %w", role, err)
	}
	if _, err := s.db.Exec(ctx, "DROP ROLE "+role); err != nil {
		return fmt.Errorf("drop role %s: %w", role, err)
	}
	s.logger.Info("user role dropped", "username", username, "role", role)
	return nil
}

// ensureRole creates a role when missing. A credential makes it a login
// role; identifiers are pre-validated and the credential travels as a quoted
// literal because CREATE ROLE cannot take bind parameters.
func (s Service) ensureRole(ctx context.Context, role, credential string) (bool, error) {
	exists, err := s.roleExists(ctx, role)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	stmt := "CREATE ROLE " + role
	if credential != "" {
		stmt += " LOGIN PASSWORD " + pgident.QuoteLiteral(credential)
	} else {
		stmt += " NOLOGIN"
	}
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return false, err
	}
	return true, nil
}

func (s Service) roleExists(ctx context.Context, role string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_roles WHERE rolname = $1)`
	if err := s.db.QueryRow(ctx, query, role).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
