// Package authz answers visibility questions about principals. Every answer
// is derived from the catalog at the instant of the call; nothing is cached,
// because membership can change between two operations by the same
// principal.
package authz

import (
	"context"
	"errors"

	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
)

// Service evaluates catalog-derived authorization queries.
type Service struct {
	users  repository.UserRepository
	teams  repository.TeamRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, teams repository.TeamRepository, logger *slog.Logger) Service {
	return Service{users: users, teams: teams, logger: logger}
}

// IsAdministrator reports whether the principal's catalog record carries the
// administrator flag. An unknown principal is not an error, just not an
// administrator.
func (s Service) IsAdministrator(ctx context.Context, principal string) (bool, error) {
	user, err := s.users.GetUserByUsername(ctx, principal)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin, nil
}

// VisibleTeams returns every team for administrators, and exactly the teams
// reachable via membership edges for everyone else. Unknown principals see
// nothing.
func (s Service) VisibleTeams(ctx context.Context, principal string) ([]domain.Team, error) {
	user, err := s.users.GetUserByUsername(ctx, principal)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if user.IsAdmin {
		return s.teams.ListTeams(ctx)
	}
	return s.teams.ListTeamsByUser(ctx, user.ID)
}
