package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mskhalsa/EZPostgres-service/internal/app/migrate"
	"github.com/mskhalsa/EZPostgres-service/pkg/config"
	"github.com/mskhalsa/EZPostgres-service/pkg/logger"
)

func main() {
	command := "up"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	timeout := fs.Duration("timeout", time.Minute, "command timeout")
	target := fs.Int64("target", 0, "target version for down (0 rolls back one)")
	fs.Parse(args)

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", cfg.Environment, slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [up|status|down] [-timeout d] [-target n]\n")
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", command)
}
