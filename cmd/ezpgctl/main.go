package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository/postgres"
	"github.com/mskhalsa/EZPostgres-service/internal/service/admin"
	"github.com/mskhalsa/EZPostgres-service/internal/service/authz"
	"github.com/mskhalsa/EZPostgres-service/internal/service/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/service/report"
	"github.com/mskhalsa/EZPostgres-service/internal/service/rolesync"
	"github.com/mskhalsa/EZPostgres-service/pkg/config"
	"github.com/mskhalsa/EZPostgres-service/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create-team":
		err = commandCreateTeam(args)
	case "create-user":
		err = commandCreateUser(args)
	case "remove-user":
		err = commandRemoveUser(args)
	case "add-user-to-team":
		err = commandAddUserToTeam(args)
	case "list-teams":
		err = commandListTeams(args)
	case "list-users":
		err = commandListUsers(args)
	case "list-tables":
		err = commandListTables(args)
	case "deploy":
		err = commandDeploy(args)
	case "report":
		err = commandReport(args)
	case "version", "--version", "-v":
		fmt.Printf("ezpgctl %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		var syncErr *domain.SyncError
		if errors.As(err, &syncErr) {
			fmt.Fprintf(os.Stderr, "warning: catalog updated but role sync failed; re-run %s\n", syncErr.Primitive)
			fmt.Fprintf(os.Stderr, "error: %v\n", syncErr.Err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// toolbox holds everything a subcommand needs against the catalog database.
type toolbox struct {
	repo   *postgres.Repository
	admin  admin.Service
	authz  authz.Service
	deploy deploy.Service
	report report.Service
	close  func()
}

func connect(ctx context.Context) (*toolbox, error) {
	cfg := config.LoadAPIConfig()
	log := logger.New("ezpgctl", cfg.Environment, slog.LevelWarn)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to catalog database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog database unreachable: %w", err)
	}

	repo := postgres.New(pool)
	syncSvc := rolesync.New(pool, repo, pool.Config().ConnConfig.Database, log)
	authzSvc := authz.New(repo, repo, log)

	return &toolbox{
		repo:   repo,
		admin:  admin.New(repo, repo, repo, syncSvc, log),
		authz:  authzSvc,
		deploy: deploy.New(authzSvc, repo, repo, log),
		report: report.New(repo, log),
		close:  pool.Close,
	}, nil
}

func commandCreateTeam(args []string) error {
	fs := flag.NewFlagSet("create-team", flag.ExitOnError)
	name := fs.String("name", "", "Team name")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	team, err := tb.admin.CreateTeam(ctx, *name)
	if team != nil {
		fmt.Printf("team %q created (schema %s)\n", team.Name, team.SchemaName)
	}
	return err
}

func commandCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	isAdmin := fs.Bool("admin", false, "Grant administrator privileges")
	team := fs.String("team", "", "Team to add the user to (optional)")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		var err error
		secret, err = promptPassword()
		if err != nil {
			return err
		}
	}

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	user, err := tb.admin.CreateUser(ctx, admin.CreateUserInput{
		Username: *username,
		Password: secret,
		IsAdmin:  *isAdmin,
		TeamName: *team,
	})
	if user != nil {
		fmt.Printf("user %q created\n", user.Username)
	}
	return err
}

func commandRemoveUser(args []string) error {
	fs := flag.NewFlagSet("remove-user", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	if err := tb.admin.RemoveUser(ctx, *username); err != nil {
		return err
	}
	fmt.Printf("user %q removed\n", *username)
	return nil
}

func commandAddUserToTeam(args []string) error {
	fs := flag.NewFlagSet("add-user-to-team", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	team := fs.String("team", "", "Team name")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*team) == "" {
		return errors.New("--username and --team are required")
	}

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	added, err := tb.admin.AddUserToTeam(ctx, *username, *team)
	if added {
		fmt.Printf("user %q added to team %q\n", *username, *team)
	} else if err == nil {
		fmt.Printf("user %q already belongs to team %q\n", *username, *team)
	}
	return err
}

func commandListTeams(args []string) error {
	fs := flag.NewFlagSet("list-teams", flag.ExitOnError)
	withMembers := fs.Bool("members", false, "Include member usernames")
	fs.Parse(args)

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	teams, err := tb.admin.ListTeams(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if *withMembers {
		fmt.Fprintln(w, "ID\tNAME\tSCHEMA\tMEMBERS")
		for _, t := range teams {
			members, err := tb.admin.TeamMembers(ctx, t.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Name, t.SchemaName, strings.Join(members, ","))
		}
	} else {
		fmt.Fprintln(w, "ID\tNAME\tSCHEMA\tCREATED")
		for _, t := range teams {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Name, t.SchemaName, t.CreatedAt.Format(time.RFC3339))
		}
	}
	return w.Flush()
}

func commandListUsers(args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	users, err := tb.admin.ListUsers(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tADMIN\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", u.ID, u.Username, u.IsAdmin, u.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func commandListTables(args []string) error {
	fs := flag.NewFlagSet("list-tables", flag.ExitOnError)
	principal := fs.String("principal", "admin", "Catalog user whose visibility applies")
	fs.Parse(args)

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	tables, err := tb.deploy.ListVisible(ctx, *principal)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEMA\tTABLE\tTEAM ID\tUPDATED")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.SchemaName, t.TableName, t.TeamID, t.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	team := fs.String("team", "", "Team name")
	table := fs.String("table", "", "Table name")
	definition := fs.String("definition", "", "Column definition, e.g. (id SERIAL PRIMARY KEY, name TEXT)")
	file := fs.String("file", "", "Read the column definition from a file instead")
	principal := fs.String("principal", "admin", "Catalog user performing the deployment")
	fs.Parse(args)

	if strings.TrimSpace(*team) == "" || strings.TrimSpace(*table) == "" {
		return errors.New("--team and --table are required")
	}
	def := strings.TrimSpace(*definition)
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read definition file: %w", err)
		}
		def = strings.TrimSpace(string(data))
	}
	if def == "" {
		return errors.New("--definition or --file is required")
	}

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	teamRow, err := tb.repo.GetTeamByName(ctx, *team)
	if err != nil {
		return fmt.Errorf("resolve team %q: %w", *team, err)
	}

	record, err := tb.deploy.Deploy(ctx, *principal, teamRow.ID, *table, def)
	if err != nil {
		return err
	}
	fmt.Printf("table %s.%s deployed (updated %s)\n", record.SchemaName, record.TableName, record.UpdatedAt.Format(time.RFC3339))
	return nil
}

func commandReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := operationContext()
	defer cancel()
	tb, err := connect(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	usage, err := tb.report.TeamUsage(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEAM\tMEMBERS\tTABLES\tTOTAL BYTES")
	for _, t := range usage.Teams {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.TeamName, t.Members, t.Tables, t.TotalBytes)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(usage.LargestTables) > 0 {
		fmt.Println()
		fmt.Println("largest tables:")
		lw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(lw, "TEAM\tTABLE\tSIZE BYTES")
		for _, t := range usage.LargestTables {
			fmt.Fprintf(lw, "%s\t%s.%s\t%d\n", t.TeamName, t.SchemaName, t.TableName, t.SizeBytes)
		}
		if err := lw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(first), nil
}

func operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func printUsage() {
	fmt.Println(`ezpgctl - multi-tenant Postgres catalog administration

Usage:
  ezpgctl <command> [flags]

Commands:
  create-team       --name <team>
  create-user       --username <name> [--password <pw>] [--admin] [--team <team>]
  remove-user       --username <name>
  add-user-to-team  --username <name> --team <team>
  list-teams        [--members]
  list-users
  list-tables       [--principal <name>]
  deploy            --team <team> --table <name> (--definition <cols> | --file <path>) [--principal <name>]
  report
  version
  help

Connection settings come from the environment (DATABASE_URL and friends).`)
}
