package repository

import (
	"context"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
)

// TeamRepository persists teams.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, id int64) (*domain.Team, error)
	GetTeamByName(ctx context.Context, name string) (*domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	ListTeamsByUser(ctx context.Context, userID int64) ([]domain.Team, error)
}

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// MembershipRepository manages team membership edges.
type MembershipRepository interface {
	// AddMember inserts a membership edge. It reports false without error
	// when the edge already exists.
	AddMember(ctx context.Context, userID, teamID int64) (bool, error)
	ListMemberUsernames(ctx context.Context, teamID int64) ([]string, error)
}

// TableRepository catalogs deployed tables and performs the transactional
// physical deployment.
type TableRepository interface {
	// DeployTable creates the team schema if absent, creates the physical
	// table, upserts the catalog record and grants the team role, all in one
	// transaction. Re-deploying an already-cataloged table refreshes its
	// updated_at instead of failing.
	DeployTable(ctx context.Context, dep domain.TableDeployment) (*domain.TableRecord, error)
	ListTables(ctx context.Context) ([]domain.TableRecord, error)
	ListTablesByTeam(ctx context.Context, teamID int64) ([]domain.TableRecord, error)
}

// UsageRepository serves read-only aggregation for reporting. It never
// mutates state.
type UsageRepository interface {
	TeamUsage(ctx context.Context) ([]domain.TeamUsage, error)
	LargestTables(ctx context.Context, limit int) ([]domain.TableSize, error)
}
