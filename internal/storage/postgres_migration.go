package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS ad_schedules (
		id TEXT PRIMARY KEY,
		stream TEXT NOT NULL,
		type TEXT NOT NULL,
		duration INTEGER NOT NULL,
		pre_roll INTEGER NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL,
		recurrence JSONB NOT NULL,
		restrictions JSONB,
		next_trigger TIMESTAMPTZ,
		last_triggered TIMESTAMPTZ,
		trigger_count INTEGER NOT NULL DEFAULT 0,
		failure_streak INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ad_schedules_due
		ON ad_schedules (next_trigger)
		WHERE enabled AND status = 'active'`,
	`CREATE TABLE IF NOT EXISTS schedule_executions (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES ad_schedules(id) ON DELETE CASCADE,
		stream TEXT NOT NULL,
		scheduled_time TIMESTAMPTZ NOT NULL,
		actual_trigger_time TIMESTAMPTZ,
		status TEXT NOT NULL,
		result JSONB,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_executions_schedule
		ON schedule_executions (schedule_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_executions_pending
		ON schedule_executions (schedule_id)
		WHERE status IN ('pending', 'triggered')`,
}

// MigratePostgres applies the schema idempotently. Statements use IF NOT
// EXISTS so re-running on startup is safe.
func MigratePostgres(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres pool for migration: %w", err)
	}
	defer pool.Close()
	return migratePool(ctx, pool)
}

func migratePool(ctx context.Context, pool *pgxpool.Pool) error {
	for _, statement := range migrationStatements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
