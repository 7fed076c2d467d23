// Command migrate-json-to-postgres moves schedules and the execution ledger
// from the JSON datastore into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("SCTE_STREAMCONTROL_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, SCTE_STREAMCONTROL_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	source, err := storage.NewStorage(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON datastore", "error", err)
		os.Exit(1)
	}
	schedules := source.ListSchedules(storage.ScheduleFilter{})
	executions := source.ListExecutions(storage.ExecutionFilter{})
	logger.Info("loaded JSON datastore", "path", *jsonPath, "schedules", len(schedules), "executions", len(executions))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: dsn})
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = repo.Close(context.Background())
	}()

	if err := storage.ImportSnapshotToPostgres(ctx, repo, schedules, executions); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}

	if err := verifyCounts(ctx, dsn, len(schedules), len(executions)); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "schedules", len(schedules), "executions", len(executions))
}

func verifyCounts(ctx context.Context, dsn string, schedules, executions int) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"ad_schedules", "SELECT COUNT(*) FROM ad_schedules", schedules},
		{"schedule_executions", "SELECT COUNT(*) FROM schedule_executions", executions},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual != check.expected {
			return fmt.Errorf("mismatch for %s: expected %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
