// Package report aggregates read-only usage statistics over the catalog.
// It consumes list interfaces only and never mutates state.
package report

import (
	"context"

	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
)

// Service produces usage reports.
type Service struct {
	usage  repository.UsageRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(usage repository.UsageRepository, logger *slog.Logger) Service {
	return Service{usage: usage, logger: logger}
}

// Usage summarizes per-team member counts, table counts and storage.
type Usage struct {
	Teams         []domain.TeamUsage
	LargestTables []domain.TableSize
}

const largestTableLimit = 5

// TeamUsage builds the full usage report.
func (s Service) TeamUsage(ctx context.Context) (*Usage, error) {
	teams, err := s.usage.TeamUsage(ctx)
	if err != nil {
		return nil, err
	}
	largest, err := s.usage.LargestTables(ctx, largestTableLimit)
	if err != nil {
		return nil, err
	}
	s.logger.Info("usage report built", "teams", len(teams))
	return &Usage{Teams: teams, LargestTables: largest}, nil
}
