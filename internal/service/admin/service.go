// Package admin implements the administrative workflows: each operation is a
// fixed sequence of catalog writes followed by role-synchronizer calls. The
// catalog commit always comes first; a synchronizer failure after it is
// surfaced as a SyncError naming the primitive to re-run, never rolled back
// and never swallowed.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
	"github.com/mskhalsa/EZPostgres-service/pkg/crypto"
	"github.com/mskhalsa/EZPostgres-service/pkg/pgident"
)

// Synchronizer is the set of idempotent reconciliation primitives the admin
// workflows drive.
type Synchronizer interface {
	EnsureTeamRoleAndSchema(ctx context.Context, team *domain.Team) error
	EnsureUserRole(ctx context.Context, username, credential string) error
	GrantMembership(ctx context.Context, user *domain.User, team *domain.Team) error
	GrantAdministrator(ctx context.Context, user *domain.User) error
	RevokeUser(ctx context.Context, username string) error
}

// Service composes catalog mutations with role synchronization.
type Service struct {
	teams   repository.TeamRepository
	users   repository.UserRepository
	members repository.MembershipRepository
	sync    Synchronizer
	logger  *slog.Logger
}

// New constructs a Service.
func New(teams repository.TeamRepository, users repository.UserRepository, members repository.MembershipRepository, sync Synchronizer, logger *slog.Logger) Service {
	return Service{teams: teams, users: users, members: members, sync: sync, logger: logger}
}

// CreateUserInput carries the create-user parameters.
type CreateUserInput struct {
	Username string
	Password string
	IsAdmin  bool
	TeamName string
}

// CreateTeam derives the team's schema identifier, inserts the catalog row
// and ensures the matching role and schema exist. A colliding identifier
// fails with ErrConflict before any database object is touched.
func (s Service) CreateTeam(ctx context.Context, name string) (*domain.Team, error) {
	schema, err := pgident.TeamSchema(name)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	team := &domain.Team{Name: strings.TrimSpace(name), SchemaName: schema}
	if err := s.teams.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("team %q: %w", name, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create team: %w", err)
	}
	if err := s.sync.EnsureTeamRoleAndSchema(ctx, team); err != nil {
		s.logger.Error("team created but role sync failed",
			"team", team.Name, "team_id", team.ID, "error", err)
		return team, &domain.SyncError{Primitive: "ensure_team_role_and_schema", Err: err}
	}
	s.logger.Info("team created", "team", team.Name, "team_id", team.ID, "schema", team.SchemaName)
	return team, nil
}

// CreateUser ensures the login role, inserts the catalog row, and optionally
// joins a team and elevates privileges. The role ensure runs before the
// catalog write so a failure there leaves no catalog identity; re-running
// the whole operation is safe because every step is idempotent or guarded.
func (s Service) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	if _, err := pgident.UserRole(in.Username); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.sync.EnsureUserRole(ctx, in.Username, in.Password); err != nil {
		return nil, fmt.Errorf("ensure user role: %w", err)
	}

	user := &domain.User{Username: in.Username, PasswordHash: hash, IsAdmin: in.IsAdmin}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("user %q: %w", in.Username, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created", "username", user.Username, "user_id", user.ID, "admin", user.IsAdmin)

	if in.TeamName != "" {
		team, err := s.teams.GetTeamByName(ctx, in.TeamName)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return user, fmt.Errorf("team %q: %w", in.TeamName, domain.ErrNotFound)
			}
			return user, err
		}
		if _, err := s.members.AddMember(ctx, user.ID, team.ID); err != nil {
			return user, fmt.Errorf("add membership: %w", err)
		}
		if err := s.sync.GrantMembership(ctx, user, team); err != nil {
			s.logger.Error("membership recorded but grant failed",
				"username", user.Username, "team", team.Name, "error", err)
			return user, &domain.SyncError{Primitive: "grant_membership", Err: err}
		}
	}

	if in.IsAdmin {
		if err := s.sync.GrantAdministrator(ctx, user); err != nil {
			s.logger.Error("administrator recorded but elevation failed",
				"username", user.Username, "error", err)
			return user, &domain.SyncError{Primitive: "grant_administrator", Err: err}
		}
	}
	return user, nil
}

// RemoveUser deletes the catalog row (memberships cascade) and then drops
// the login role. The catalog deletion comes first: a failed role drop
// leaves a dangling database role flagged for reconciliation, not a live
// catalog identity.
func (s Service) RemoveUser(ctx context.Context, username string) error {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
		}
		return err
	}
	if err := s.users.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := s.sync.RevokeUser(ctx, username); err != nil {
		s.logger.Error("user removed from catalog but role drop failed",
			"username", username, "error", err)
		return &domain.SyncError{Primitive: "revoke_user", Err: err}
	}
	s.logger.Info("user removed", "username", username, "user_id", user.ID)
	return nil
}

// AddUserToTeam inserts a membership edge and grants database access on
// first insertion. Re-adding an existing member reports added=false and
// performs no grants.
func (s Service) AddUserToTeam(ctx context.Context, username, teamName string) (bool, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
		}
		return false, err
	}
	team, err := s.teams.GetTeamByName(ctx, teamName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("team %q: %w", teamName, domain.ErrNotFound)
		}
		return false, err
	}
	inserted, err := s.members.AddMember(ctx, user.ID, team.ID)
	if err != nil {
		return false, fmt.Errorf("add membership: %w", err)
	}
	if !inserted {
		s.logger.Info("membership already present", "username", username, "team", teamName)
		return false, nil
	}
	if err := s.sync.GrantMembership(ctx, user, team); err != nil {
		s.logger.Error("membership recorded but grant failed",
			"username", username, "team", teamName, "error", err)
		return true, &domain.SyncError{Primitive: "grant_membership", Err: err}
	}
	s.logger.Info("user added to team", "username", username, "team", teamName)
	return true, nil
}

// ListTeams returns every team recorded in the catalog.
func (s Service) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return s.teams.ListTeams(ctx)
}

// ListUsers returns every user recorded in the catalog.
func (s Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

// TeamMembers resolves a team by name and lists its member usernames.
func (s Service) TeamMembers(ctx context.Context, teamName string) ([]string, error) {
	team, err := s.teams.GetTeamByName(ctx, teamName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("team %q: %w", teamName, domain.ErrNotFound)
		}
		return nil, err
	}
	return s.members.ListMemberUsernames(ctx, team.ID)
}
