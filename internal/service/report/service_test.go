package report

import (
	"context"
	"errors"
	"testing"

	"io"
	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
)

type fakeUsage struct {
	teams      []domain.TeamUsage
	largest    []domain.TableSize
	limitSeen  int
	teamsErr   error
	largestErr error
}

func (f *fakeUsage) TeamUsage(context.Context) ([]domain.TeamUsage, error) {
	return f.teams, f.teamsErr
}

func (f *fakeUsage) LargestTables(_ context.Context, limit int) ([]domain.TableSize, error) {
	f.limitSeen = limit
	return f.largest, f.largestErr
}

func TestTeamUsageReport(t *testing.T) {
	usage := &fakeUsage{
		teams: []domain.TeamUsage{
			{TeamID: 1, TeamName: "alpha", Members: 3, Tables: 2, TotalBytes: 4096},
			{TeamID: 2, TeamName: "beta", Members: 1, Tables: 0, TotalBytes: 0},
		},
		largest: []domain.TableSize{
			{TeamName: "alpha", SchemaName: "team_alpha", TableName: "events", SizeBytes: 4096},
		},
	}
	svc := New(usage, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := svc.TeamUsage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Teams) != 2 {
		t.Fatalf("teams = %d, want 2", len(report.Teams))
	}
	if len(report.LargestTables) != 1 || report.LargestTables[0].TableName != "events" {
		t.Fatalf("unexpected largest tables: %+v", report.LargestTables)
	}
	if usage.limitSeen != largestTableLimit {
		t.Fatalf("largest table limit = %d, want %d", usage.limitSeen, largestTableLimit)
	}
}

func TestTeamUsagePropagatesErrors(t *testing.T) {
	boom := errors.New("aggregate failed")
	svc := New(&fakeUsage{teamsErr: boom}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := svc.TeamUsage(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected aggregation error, got %v", err)
	}
}
