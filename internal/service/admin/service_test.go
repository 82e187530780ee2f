package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
)

type fakeTeams struct {
	byName    map[string]*domain.Team
	createErr error
	nextID    int64
}

func (f *fakeTeams) CreateTeam(_ context.Context, team *domain.Team) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byName {
		if existing.SchemaName == team.SchemaName {
			return repository.ErrConflict
		}
	}
	f.nextID++
	team.ID = f.nextID
	f.byName[team.Name] = team
	return nil
}

func (f *fakeTeams) GetTeamByID(context.Context, int64) (*domain.Team, error) { panic("not used") }

func (f *fakeTeams) GetTeamByName(_ context.Context, name string) (*domain.Team, error) {
	if t, ok := f.byName[name]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTeams) ListTeams(context.Context) ([]domain.Team, error) { panic("not used") }

func (f *fakeTeams) ListTeamsByUser(context.Context, int64) ([]domain.Team, error) {
	panic("not used")
}

type fakeUsers struct {
	byName  map[string]*domain.User
	nextID  int64
	deleted []int64
}

func (f *fakeUsers) CreateUser(_ context.Context, user *domain.User) error {
	if _, ok := f.byName[user.Username]; ok {
		return repository.ErrConflict
	}
	f.nextID++
	user.ID = f.nextID
	f.byName[user.Username] = user
	return nil
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	if u, ok := f.byName[username]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) ListUsers(context.Context) ([]domain.User, error) { panic("not used") }

func (f *fakeUsers) DeleteUser(_ context.Context, id int64) error {
	for name, u := range f.byName {
		if u.ID == id {
			delete(f.byName, name)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeMembers struct {
	edges map[[2]int64]bool
}

func (f *fakeMembers) AddMember(_ context.Context, userID, teamID int64) (bool, error) {
	key := [2]int64{userID, teamID}
	if f.edges[key] {
		return false, nil
	}
	f.edges[key] = true
	return true, nil
}

func (f *fakeMembers) ListMemberUsernames(context.Context, int64) ([]string, error) {
	panic("not used")
}

type syncRecorder struct {
	calls  []string
	failOn string
	err    error
}

func (r *syncRecorder) record(name string) error {
	r.calls = append(r.calls, name)
	if name == r.failOn {
		return r.err
	}
	return nil
}

func (r *syncRecorder) EnsureTeamRoleAndSchema(context.Context, *domain.Team) error {
	return r.record("ensure_team_role_and_schema")
}

func (r *syncRecorder) EnsureUserRole(context.Context, string, string) error {
	return r.record("ensure_user_role")
}

func (r *syncRecorder) GrantMembership(context.Context, *domain.User, *domain.Team) error {
	return r.record("grant_membership")
}

func (r *syncRecorder) GrantAdministrator(context.Context, *domain.User) error {
	return r.record("grant_administrator")
}

func (r *syncRecorder) RevokeUser(context.Context, string) error {
	return r.record("revoke_user")
}

type fixture struct {
	teams   *fakeTeams
	users   *fakeUsers
	members *fakeMembers
	sync    *syncRecorder
	svc     Service
}

func newFixture() *fixture {
	f := &fixture{
		teams:   &fakeTeams{byName: map[string]*domain.Team{}},
		users:   &fakeUsers{byName: map[string]*domain.User{}},
		members: &fakeMembers{edges: map[[2]int64]bool{}},
		sync:    &syncRecorder{},
	}
	f.svc = New(f.teams, f.users, f.members, f.sync, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) seedTeam(t *testing.T, name string) *domain.Team {
	t.Helper()
	team, err := f.svc.CreateTeam(context.Background(), name)
	if err != nil {
		t.Fatalf("seed team %q: %v", name, err)
	}
	return team
}

func TestCreateTeamDerivesSchemaAndSyncs(t *testing.T) {
	f := newFixture()

	team, err := f.svc.CreateTeam(context.Background(), "Alpha")
	if err != nil {
		t.Fatalf("CreateTeam returned error: %v", err)
	}
	if team.SchemaName != "team_alpha" {
		t.Fatalf("schema = %q, want team_alpha", team.SchemaName)
	}
	if team.ID == 0 {
		t.Fatal("expected generated team id")
	}
	if len(f.sync.calls) != 1 || f.sync.calls[0] != "ensure_team_role_and_schema" {
		t.Fatalf("unexpected sync calls: %v", f.sync.calls)
	}
}

func TestCreateTeamConflictTouchesNoDatabaseObjects(t *testing.T) {
	f := newFixture()
	f.seedTeam(t, "Alpha")
	f.sync.calls = nil

	_, err := f.svc.CreateTeam(context.Background(), "alpha")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(f.sync.calls) != 0 {
		t.Fatalf("conflict must not reach the synchronizer, got %v", f.sync.calls)
	}
}

func TestCreateTeamRejectsUnsafeNameBeforeCatalogWrite(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateTeam(context.Background(), "alpha; DROP SCHEMA meta")
	if err == nil {
		t.Fatal("expected error for unsafe name")
	}
	if len(f.teams.byName) != 0 || len(f.sync.calls) != 0 {
		t.Fatal("invalid name must not mutate anything")
	}
}

func TestCreateTeamSyncFailureKeepsCatalogRow(t *testing.T) {
	f := newFixture()
	f.sync.failOn = "ensure_team_role_and_schema"
	f.sync.err = errors.New("connection refused")

	team, err := f.svc.CreateTeam(context.Background(), "Alpha")
	var syncErr *domain.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if syncErr.Primitive != "ensure_team_role_and_schema" {
		t.Fatalf("primitive = %q", syncErr.Primitive)
	}
	if team == nil || f.teams.byName["Alpha"] == nil {
		t.Fatal("catalog row must survive a sync failure")
	}
}

func TestCreateUserWithTeamGrantsMembership(t *testing.T) {
	f := newFixture()
	team := f.seedTeam(t, "Alpha")
	f.sync.calls = nil

	user, err := f.svc.CreateUser(context.Background(), CreateUserInput{
		Username: "bob",
		Password: "hunter2",
		TeamName: "Alpha",
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if string(user.PasswordHash) == "hunter2" || len(user.PasswordHash) == 0 {
		t.Fatal("password must be stored hashed")
	}
	if !f.members.edges[[2]int64{user.ID, team.ID}] {
		t.Fatal("expected membership edge")
	}
	want := []string{"ensure_user_role", "grant_membership"}
	if len(f.sync.calls) != len(want) {
		t.Fatalf("sync calls = %v, want %v", f.sync.calls, want)
	}
	for i := range want {
		if f.sync.calls[i] != want[i] {
			t.Fatalf("sync calls = %v, want %v", f.sync.calls, want)
		}
	}
}

func TestCreateUserRoleFailureLeavesNoCatalogIdentity(t *testing.T) {
	f := newFixture()
	f.sync.failOn = "ensure_user_role"
	f.sync.err = errors.New("permission denied")

	_, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"})
	if err == nil {
		t.Fatal("expected error")
	}
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		t.Fatal("pre-catalog failure is plain, not a divergence")
	}
	if len(f.users.byName) != 0 {
		t.Fatal("no catalog row may exist after a role ensure failure")
	}
}

func TestCreateUserDuplicateUsernameConflicts(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	_, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateUserAdminElevates(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateUser(context.Background(), CreateUserInput{
		Username: "root", Password: "pw", IsAdmin: true,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if f.sync.calls[len(f.sync.calls)-1] != "grant_administrator" {
		t.Fatalf("expected administrator grant, got %v", f.sync.calls)
	}
}

func TestCreateUserUnknownTeamReportsNotFound(t *testing.T) {
	f := newFixture()

	user, err := f.svc.CreateUser(context.Background(), CreateUserInput{
		Username: "bob", Password: "pw", TeamName: "Ghost",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if user == nil || f.users.byName["bob"] == nil {
		t.Fatal("user creation itself should have succeeded")
	}
}

func TestRemoveUserDeletesCatalogBeforeRoleDrop(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	f.sync.calls = nil
	f.sync.failOn = "revoke_user"
	f.sync.err = errors.New("role is busy")

	err := f.svc.RemoveUser(context.Background(), "bob")
	var syncErr *domain.SyncError
	if !errors.As(err, &syncErr) || syncErr.Primitive != "revoke_user" {
		t.Fatalf("expected revoke_user SyncError, got %v", err)
	}
	if len(f.users.byName) != 0 {
		t.Fatal("catalog row must be gone even when the role drop fails")
	}
}

func TestRemoveUnknownUser(t *testing.T) {
	f := newFixture()

	err := f.svc.RemoveUser(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveThenRecreateUserStartsClean(t *testing.T) {
	f := newFixture()
	f.seedTeam(t, "Alpha")
	if _, err := f.svc.CreateUser(context.Background(), CreateUserInput{
		Username: "bob", Password: "pw", TeamName: "Alpha",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := f.svc.RemoveUser(context.Background(), "bob"); err != nil {
		t.Fatalf("RemoveUser returned error: %v", err)
	}

	user, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"})
	if err != nil {
		t.Fatalf("recreate returned error: %v", err)
	}
	if user.ID == f.users.deleted[0] {
		t.Fatal("recreated user must be a fresh identity")
	}
}

func TestAddUserToTeamGrantsOnlyOnFirstInsertion(t *testing.T) {
	f := newFixture()
	f.seedTeam(t, "Alpha")
	if _, err := f.svc.CreateUser(context.Background(), CreateUserInput{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	f.sync.calls = nil

	added, err := f.svc.AddUserToTeam(context.Background(), "bob", "Alpha")
	if err != nil || !added {
		t.Fatalf("first add = (%v, %v), want (true, nil)", added, err)
	}
	if len(f.sync.calls) != 1 || f.sync.calls[0] != "grant_membership" {
		t.Fatalf("sync calls = %v", f.sync.calls)
	}

	f.sync.calls = nil
	added, err = f.svc.AddUserToTeam(context.Background(), "bob", "Alpha")
	if err != nil || added {
		t.Fatalf("second add = (%v, %v), want (false, nil)", added, err)
	}
	if len(f.sync.calls) != 0 {
		t.Fatalf("re-add must not grant again, got %v", f.sync.calls)
	}
}
