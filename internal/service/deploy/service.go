// Package deploy implements the authorized table-deployment procedure.
package deploy

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
	"github.com/mskhalsa/EZPostgres-service/pkg/pgident"
)

// Authorizer resolves which teams a principal can see, evaluated fresh on
// every call.
type Authorizer interface {
	VisibleTeams(ctx context.Context, principal string) ([]domain.Team, error)
}

// Service deploys tables into team schemas. The authorization check runs
// before any mutation; the physical work and the catalog record commit as
// one transaction inside the table repository.
type Service struct {
	authz  Authorizer
	users  repository.UserRepository
	tables repository.TableRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(authz Authorizer, users repository.UserRepository, tables repository.TableRepository, logger *slog.Logger) Service {
	return Service{authz: authz, users: users, tables: tables, logger: logger}
}

// Deploy creates tableName inside the team's schema using the caller
// supplied definition and records it in the catalog. The definition is
// trusted administrative input from an already-authorized principal.
// Re-deploying an existing table refreshes its catalog timestamp.
func (s Service) Deploy(ctx context.Context, principal string, teamID int64, tableName, definition string) (*domain.TableRecord, error) {
	if err := pgident.Valid(tableName); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}

	visible, err := s.authz.VisibleTeams(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolve visible teams: %w", err)
	}
	var team *domain.Team
	for i := range visible {
		if visible[i].ID == teamID {
			team = &visible[i]
			break
		}
	}
	if team == nil {
		s.logger.Warn("deployment rejected",
			"principal", principal, "team_id", teamID, "table", tableName)
		return nil, fmt.Errorf("team %d: %w", teamID, domain.ErrUnauthorized)
	}

	var createdBy *int64
	if user, err := s.users.GetUserByUsername(ctx, principal); err == nil {
		createdBy = &user.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	record, err := s.tables.DeployTable(ctx, domain.TableDeployment{
		TeamID:     team.ID,
		SchemaName: team.SchemaName,
		TableName:  tableName,
		Definition: definition,
		TeamRole:   team.SchemaName,
		CreatedBy:  createdBy,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("table %s.%s: %w", team.SchemaName, tableName, domain.ErrConflict)
		}
		return nil, fmt.Errorf("deploy %s.%s: %w", team.SchemaName, tableName, err)
	}
	refreshed := !record.CreatedAt.Equal(record.UpdatedAt)
	if refreshed {
		// The physical table predates this call, so the supplied
		// definition was not applied to it.
		s.logger.Warn("existing table refreshed, supplied definition ignored",
			"principal", principal, "team_id", team.ID,
			"schema", record.SchemaName, "table", record.TableName)
	}
	s.logger.Info("table deployed",
		"principal", principal, "team_id", team.ID,
		"schema", record.SchemaName, "table", record.TableName,
		"refreshed", refreshed)
	return record, nil
}

// ListVisible returns the cataloged tables of every team the principal can
// see. Read-only.
func (s Service) ListVisible(ctx context.Context, principal string) ([]domain.TableRecord, error) {
	visible, err := s.authz.VisibleTeams(ctx, principal)
	if err != nil {
		return nil, err
	}
	var records []domain.TableRecord
	for _, team := range visible {
		tables, err := s.tables.ListTablesByTeam(ctx, team.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, tables...)
	}
	return records, nil
}
