package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/mskhalsa/EZPostgres-service/internal/app/migrate"
	httpx "github.com/mskhalsa/EZPostgres-service/internal/http"
	"github.com/mskhalsa/EZPostgres-service/internal/repository/postgres"
	"github.com/mskhalsa/EZPostgres-service/internal/service/admin"
	"github.com/mskhalsa/EZPostgres-service/internal/service/auth"
	"github.com/mskhalsa/EZPostgres-service/internal/service/authz"
	"github.com/mskhalsa/EZPostgres-service/internal/service/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/service/report"
	"github.com/mskhalsa/EZPostgres-service/internal/service/rolesync"
	"github.com/mskhalsa/EZPostgres-service/pkg/config"
	"github.com/mskhalsa/EZPostgres-service/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", cfg.Environment, slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to configure database pool", "error", err)
		os.Exit(1)
	}

	if err := waitForDatabase(ctx, pool, cfg.ConnectTimeout, log); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	dbName := pool.Config().ConnConfig.Database

	syncSvc := rolesync.New(pool, repo, dbName, log)
	authSvc := auth.New(repo, cfg.JWTSecret, cfg.AccessTokenTTL, log)
	authzSvc := authz.New(repo, repo, log)
	adminSvc := admin.New(repo, repo, repo, syncSvc, log)
	deploySvc := deploy.New(authzSvc, repo, repo, log)
	reportSvc := report.New(repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, authzSvc, adminSvc, deploySvc, reportSvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// waitForDatabase pings with fibonacci backoff until the database answers
// or the timeout elapses. The catalog database often starts alongside us.
func waitForDatabase(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, log *slog.Logger) error {
	backoff := retry.WithMaxDuration(timeout, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			log.Warn("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
