package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
)

type fakeAuthz struct {
	visible map[string][]domain.Team
}

func (f fakeAuthz) VisibleTeams(_ context.Context, principal string) ([]domain.Team, error) {
	return f.visible[principal], nil
}

type fakeUsers struct {
	byName map[string]*domain.User
}

func (f fakeUsers) CreateUser(context.Context, *domain.User) error { panic("not used") }

func (f fakeUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	if u, ok := f.byName[username]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f fakeUsers) ListUsers(context.Context) ([]domain.User, error) { panic("not used") }
func (f fakeUsers) DeleteUser(context.Context, int64) error          { panic("not used") }

type fakeTables struct {
	deployed  []domain.TableDeployment
	records   map[string]*domain.TableRecord
	deployErr error
	nextID    int64
}

func (f *fakeTables) DeployTable(_ context.Context, dep domain.TableDeployment) (*domain.TableRecord, error) {
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	f.deployed = append(f.deployed, dep)
	key := dep.SchemaName + "." + dep.TableName
	if existing, ok := f.records[key]; ok {
		existing.UpdatedAt = existing.UpdatedAt.Add(time.Second)
		return existing, nil
	}
	f.nextID++
	now := time.Now().UTC()
	record := &domain.TableRecord{
		ID:         f.nextID,
		TeamID:     dep.TeamID,
		TableName:  dep.TableName,
		SchemaName: dep.SchemaName,
		CreatedBy:  dep.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.records[key] = record
	return record, nil
}

func (f *fakeTables) ListTables(context.Context) ([]domain.TableRecord, error) { panic("not used") }

func (f *fakeTables) ListTablesByTeam(_ context.Context, teamID int64) ([]domain.TableRecord, error) {
	var out []domain.TableRecord
	for _, r := range f.records {
		if r.TeamID == teamID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func newFixture() (Service, *fakeTables) {
	alpha := domain.Team{ID: 1, Name: "Alpha", SchemaName: "team_alpha"}
	beta := domain.Team{ID: 2, Name: "Beta", SchemaName: "team_beta"}
	authz := fakeAuthz{visible: map[string][]domain.Team{
		"admin": {alpha, beta},
		"bob":   {alpha},
	}}
	users := fakeUsers{byName: map[string]*domain.User{
		"admin": {ID: 1, Username: "admin", IsAdmin: true},
		"bob":   {ID: 2, Username: "bob"},
		"eve":   {ID: 3, Username: "eve"},
	}}
	tables := &fakeTables{records: map[string]*domain.TableRecord{}}
	return New(authz, users, tables, slog.New(slog.NewTextHandler(io.Discard, nil))), tables
}

func TestDeployByMember(t *testing.T) {
	svc, tables := newFixture()

	record, err := svc.Deploy(context.Background(), "bob", 1, "orders", "(id BIGINT PRIMARY KEY)")
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if record.SchemaName != "team_alpha" || record.TableName != "orders" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.CreatedBy == nil || *record.CreatedBy != 2 {
		t.Fatalf("creator not recorded: %+v", record.CreatedBy)
	}
	if len(tables.deployed) != 1 || tables.deployed[0].TeamRole != "team_alpha" {
		t.Fatalf("unexpected deployment: %+v", tables.deployed)
	}
}

func TestDeployUnauthorizedHasNoEffects(t *testing.T) {
	svc, tables := newFixture()

	_, err := svc.Deploy(context.Background(), "eve", 1, "orders", "(id BIGINT)")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(tables.deployed) != 0 {
		t.Fatal("unauthorized deploy must not reach the repository")
	}

	records, err := svc.ListVisible(context.Background(), "admin")
	if err != nil {
		t.Fatalf("ListVisible returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("no catalog rows may exist, got %v", records)
	}
}

func TestDeployOutsideMembershipIsUnauthorized(t *testing.T) {
	svc, _ := newFixture()

	_, err := svc.Deploy(context.Background(), "bob", 2, "orders", "(id BIGINT)")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign team, got %v", err)
	}
}

func TestDeployTwiceRefreshesRecord(t *testing.T) {
	svc, _ := newFixture()

	first, err := svc.Deploy(context.Background(), "bob", 1, "orders", "(id BIGINT)")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	second, err := svc.Deploy(context.Background(), "bob", 1, "orders", "(id BIGINT)")
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-deploy must not create a second record: %d vs %d", second.ID, first.ID)
	}
	if !second.UpdatedAt.After(second.CreatedAt) {
		t.Fatal("re-deploy must refresh updated_at")
	}
}

func TestDeployRefreshWarnsThatDefinitionWasIgnored(t *testing.T) {
	svc, _ := newFixture()
	var buf bytes.Buffer
	svc.logger = slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := svc.Deploy(context.Background(), "bob", 1, "orders", "(id BIGINT)"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if strings.Contains(buf.String(), "level=WARN") {
		t.Fatalf("first deploy must not warn, got %q", buf.String())
	}

	buf.Reset()
	if _, err := svc.Deploy(context.Background(), "bob", 1, "orders", "(id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	logged := buf.String()
	if !strings.Contains(logged, "level=WARN") || !strings.Contains(logged, "supplied definition ignored") {
		t.Fatalf("re-deploy must warn that the new definition was not applied, got %q", logged)
	}
	if !strings.Contains(logged, "table=orders") {
		t.Fatalf("warning must name the table, got %q", logged)
	}
}

func TestDeployRejectsUnsafeTableName(t *testing.T) {
	svc, tables := newFixture()

	_, err := svc.Deploy(context.Background(), "admin", 1, "orders; DROP TABLE x", "(id BIGINT)")
	if err == nil {
		t.Fatal("expected error for unsafe table name")
	}
	if len(tables.deployed) != 0 {
		t.Fatal("invalid name must not reach the repository")
	}
}

func TestDeployConflictSurfacesAsConflict(t *testing.T) {
	svc, tables := newFixture()
	tables.deployErr = repository.ErrConflict

	_, err := svc.Deploy(context.Background(), "admin", 1, "orders", "(id BIGINT)")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListVisibleScopesToPrincipal(t *testing.T) {
	svc, _ := newFixture()
	if _, err := svc.Deploy(context.Background(), "admin", 2, "metrics", "(id BIGINT)"); err != nil {
		t.Fatalf("seed deploy: %v", err)
	}

	records, err := svc.ListVisible(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListVisible returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("bob must not see team_beta tables, got %v", records)
	}

	records, err = svc.ListVisible(context.Background(), "admin")
	if err != nil {
		t.Fatalf("ListVisible returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("admin must see the deployed table, got %v", records)
	}
}
