package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
)

const scheduleColumns = `id, stream, type, duration, pre_roll, enabled, status,
	recurrence, restrictions, next_trigger, last_triggered, trigger_count,
	failure_streak, created_at, updated_at`

const executionColumns = `id, schedule_id, stream, scheduled_time,
	actual_trigger_time, status, result, retry_count, max_retries, created_at`

type postgresRepository struct {
	pool   *pgxpool.Pool
	clock  func() time.Time
	logger *slog.Logger
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	cfg.normalize()
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := migratePool(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRepository{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreateSchedule(params CreateScheduleParams) (models.AdSchedule, error) {
	if err := validateCreateScheduleParams(params); err != nil {
		return models.AdSchedule{}, err
	}
	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}

	now := r.clock()
	schedule := models.AdSchedule{
		ID:           uuid.NewString(),
		Stream:       strings.TrimSpace(params.Stream),
		Type:         params.Type,
		Duration:     params.Duration,
		PreRoll:      params.PreRoll,
		Enabled:      enabled,
		Status:       models.ScheduleActive,
		Recurrence:   params.Recurrence,
		Restrictions: cloneRestrictions(params.Restrictions),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if next, ok := scheduler.NextFire(schedule.Recurrence, now); ok {
		schedule.NextTrigger = &next
	}

	ctx := context.Background()
	if err := r.insertSchedule(ctx, r.pool, schedule); err != nil {
		return models.AdSchedule{}, err
	}
	return schedule, nil
}

func (r *postgresRepository) insertSchedule(ctx context.Context, pool *pgxpool.Pool, schedule models.AdSchedule) error {
	recurrence, restrictions, err := marshalSchedulePolicy(schedule)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO ad_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		schedule.ID, schedule.Stream, string(schedule.Type), schedule.Duration,
		schedule.PreRoll, schedule.Enabled, string(schedule.Status), recurrence,
		restrictions, schedule.NextTrigger, schedule.LastTriggered,
		schedule.TriggerCount, schedule.FailureStreak, schedule.CreatedAt,
		schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule %s: %w", schedule.ID, err)
	}
	return nil
}

func marshalSchedulePolicy(schedule models.AdSchedule) (recurrence, restrictions []byte, err error) {
	recurrence, err = json.Marshal(schedule.Recurrence)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal recurrence: %w", err)
	}
	if schedule.Restrictions != nil {
		restrictions, err = json.Marshal(schedule.Restrictions)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal restrictions: %w", err)
		}
	}
	return recurrence, restrictions, nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanSchedule(row pgRow) (models.AdSchedule, error) {
	var (
		schedule     models.AdSchedule
		recurrence   []byte
		restrictions []byte
	)
	err := row.Scan(&schedule.ID, &schedule.Stream, &schedule.Type,
		&schedule.Duration, &schedule.PreRoll, &schedule.Enabled,
		&schedule.Status, &recurrence, &restrictions, &schedule.NextTrigger,
		&schedule.LastTriggered, &schedule.TriggerCount,
		&schedule.FailureStreak, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return models.AdSchedule{}, err
	}
	if err := json.Unmarshal(recurrence, &schedule.Recurrence); err != nil {
		return models.AdSchedule{}, fmt.Errorf("decode recurrence for %s: %w", schedule.ID, err)
	}
	if len(restrictions) > 0 {
		schedule.Restrictions = &models.Restrictions{}
		if err := json.Unmarshal(restrictions, schedule.Restrictions); err != nil {
			return models.AdSchedule{}, fmt.Errorf("decode restrictions for %s: %w", schedule.ID, err)
		}
	}
	return schedule, nil
}

func scanExecution(row pgRow) (models.ScheduleExecution, error) {
	var (
		execution models.ScheduleExecution
		result    []byte
	)
	err := row.Scan(&execution.ID, &execution.ScheduleID, &execution.Stream,
		&execution.ScheduledTime, &execution.ActualTriggerTime,
		&execution.Status, &result, &execution.RetryCount,
		&execution.MaxRetries, &execution.CreatedAt)
	if err != nil {
		return models.ScheduleExecution{}, err
	}
	if len(result) > 0 {
		execution.Result = &models.ExecutionResult{}
		if err := json.Unmarshal(result, execution.Result); err != nil {
			return models.ScheduleExecution{}, fmt.Errorf("decode result for %s: %w", execution.ID, err)
		}
	}
	return execution, nil
}

func (r *postgresRepository) GetSchedule(id string) (models.AdSchedule, bool) {
	ctx := context.Background()
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM ad_schedules WHERE id = $1`, id)
	schedule, err := scanSchedule(row)
	if err != nil {
		return models.AdSchedule{}, false
	}
	return schedule, true
}

func (r *postgresRepository) ListSchedules(filter ScheduleFilter) []models.AdSchedule {
	ctx := context.Background()
	query := `SELECT ` + scheduleColumns + ` FROM ad_schedules`
	var (
		clauses []string
		args    []any
	)
	if filter.Stream != "" {
		args = append(args, filter.Stream)
		clauses = append(clauses, fmt.Sprintf("stream = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		clauses = append(clauses, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var schedules []models.AdSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return schedules
		}
		schedules = append(schedules, schedule)
	}
	return schedules
}

func (r *postgresRepository) UpdateSchedule(id string, update ScheduleUpdate) (models.AdSchedule, error) {
	if err := validateScheduleUpdate(update); err != nil {
		return models.AdSchedule{}, err
	}

	ctx := context.Background()
	var updated models.AdSchedule
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		schedule, err := r.lockSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		applyScheduleUpdate(&schedule, update, r.clock())
		if err := r.saveSchedule(ctx, tx, schedule); err != nil {
			return err
		}
		updated = schedule
		return nil
	})
	if err != nil {
		return models.AdSchedule{}, err
	}
	return updated, nil
}

func (r *postgresRepository) DeleteSchedule(id string) error {
	ctx := context.Background()
	tag, err := r.pool.Exec(ctx, `DELETE FROM ad_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrScheduleNotFound
	}
	return nil
}

func (r *postgresRepository) DueSchedules(now time.Time, window time.Duration) []models.AdSchedule {
	ctx := context.Background()
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM ad_schedules
		WHERE enabled AND status = $1 AND next_trigger IS NOT NULL AND next_trigger <= $2
		ORDER BY next_trigger, id`,
		string(models.ScheduleActive), now.Add(window))
	if err != nil {
		return nil
	}
	defer rows.Close()
	var due []models.AdSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return due
		}
		due = append(due, schedule)
	}
	return due
}

func (r *postgresRepository) BeginExecution(scheduleID string, scheduledTime time.Time, maxRetries int) (models.ScheduleExecution, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx := context.Background()
	var execution models.ScheduleExecution
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		schedule, err := r.lockSchedule(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		if !schedule.Dispatchable() {
			return scheduler.ErrScheduleInactive
		}
		var pending bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM schedule_executions
			WHERE schedule_id = $1 AND status IN ($2, $3))`,
			scheduleID, string(models.ExecutionPending), string(models.ExecutionTriggered)).Scan(&pending)
		if err != nil {
			return fmt.Errorf("check pending executions: %w", err)
		}
		if pending {
			return scheduler.ErrExecutionPending
		}

		execution = models.ScheduleExecution{
			ID:            uuid.NewString(),
			ScheduleID:    scheduleID,
			Stream:        schedule.Stream,
			ScheduledTime: scheduledTime.UTC(),
			Status:        models.ExecutionPending,
			MaxRetries:    maxRetries,
			CreatedAt:     r.clock(),
		}
		return r.insertExecution(ctx, tx, execution)
	})
	if err != nil {
		return models.ScheduleExecution{}, err
	}
	return execution, nil
}

func (r *postgresRepository) ResolveExecution(executionID string, result models.ExecutionResult, retryCount int) (models.ScheduleExecution, error) {
	ctx := context.Background()
	var resolved models.ScheduleExecution
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		execution, err := r.lockExecution(ctx, tx, executionID)
		if err != nil {
			return err
		}
		now := r.clock()
		if result.Success {
			execution.Status = models.ExecutionCompleted
		} else {
			execution.Status = models.ExecutionFailed
		}
		resultCopy := result
		execution.Result = &resultCopy
		execution.ActualTriggerTime = &now
		if retryCount > 0 {
			execution.RetryCount = retryCount
		}
		if err := r.saveExecution(ctx, tx, execution); err != nil {
			return err
		}

		schedule, err := r.lockSchedule(ctx, tx, execution.ScheduleID)
		if err == nil {
			applyExecutionOutcome(&schedule, execution, now)
			if err := r.saveSchedule(ctx, tx, schedule); err != nil {
				return err
			}
		} else if !errors.Is(err, scheduler.ErrScheduleNotFound) {
			return err
		}
		resolved = execution
		return nil
	})
	if err != nil {
		return models.ScheduleExecution{}, err
	}
	return resolved, nil
}

func (r *postgresRepository) RecordSkip(scheduleID string, scheduledTime time.Time, reason string) (models.ScheduleExecution, error) {
	ctx := context.Background()
	var skipped models.ScheduleExecution
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		schedule, err := r.lockSchedule(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		now := r.clock()
		skipped = models.ScheduleExecution{
			ID:            uuid.NewString(),
			ScheduleID:    scheduleID,
			Stream:        schedule.Stream,
			ScheduledTime: scheduledTime.UTC(),
			Status:        models.ExecutionSkipped,
			Result:        &models.ExecutionResult{Success: false, Error: reason},
			CreatedAt:     now,
		}
		if err := r.insertExecution(ctx, tx, skipped); err != nil {
			return err
		}
		if skipConsumesTrigger(schedule, skipped.ScheduledTime) {
			advanceTrigger(&schedule, skipped.ScheduledTime)
		}
		schedule.UpdatedAt = now
		return r.saveSchedule(ctx, tx, schedule)
	})
	if err != nil {
		return models.ScheduleExecution{}, err
	}
	return skipped, nil
}

func (r *postgresRepository) FailStalePending(now time.Time, maxAge time.Duration) []models.ScheduleExecution {
	if maxAge <= 0 {
		return nil
	}
	ctx := context.Background()
	var failed []models.ScheduleExecution
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+executionColumns+` FROM schedule_executions
			WHERE status IN ($1, $2) AND created_at <= $3
			ORDER BY created_at, id
			FOR UPDATE`,
			string(models.ExecutionPending), string(models.ExecutionTriggered), now.Add(-maxAge))
		if err != nil {
			return fmt.Errorf("scan stale executions: %w", err)
		}
		var stale []models.ScheduleExecution
		for rows.Next() {
			execution, err := scanExecution(rows)
			if err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, execution)
		}
		rows.Close()

		for _, execution := range stale {
			execution.Status = models.ExecutionFailed
			execution.Result = &models.ExecutionResult{Success: false, Error: "execution timed out"}
			if err := r.saveExecution(ctx, tx, execution); err != nil {
				return err
			}
			schedule, err := r.lockSchedule(ctx, tx, execution.ScheduleID)
			if err == nil {
				applyExecutionOutcome(&schedule, execution, now)
				if err := r.saveSchedule(ctx, tx, schedule); err != nil {
					return err
				}
			} else if !errors.Is(err, scheduler.ErrScheduleNotFound) {
				return err
			}
			failed = append(failed, execution)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to reap stale executions", "error", err)
		return nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	return failed
}

func (r *postgresRepository) GetExecution(id string) (models.ScheduleExecution, bool) {
	ctx := context.Background()
	row := r.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM schedule_executions WHERE id = $1`, id)
	execution, err := scanExecution(row)
	if err != nil {
		return models.ScheduleExecution{}, false
	}
	return execution, true
}

func (r *postgresRepository) ExecutionsForSchedule(scheduleID string) []models.ScheduleExecution {
	ctx := context.Background()
	rows, err := r.pool.Query(ctx, `SELECT `+executionColumns+` FROM schedule_executions
		WHERE schedule_id = $1 ORDER BY created_at, id`, scheduleID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var executions []models.ScheduleExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return executions
		}
		executions = append(executions, execution)
	}
	return executions
}

func (r *postgresRepository) ListExecutions(filter ExecutionFilter) []models.ScheduleExecution {
	ctx := context.Background()
	query := `SELECT ` + executionColumns + ` FROM schedule_executions`
	var (
		clauses []string
		args    []any
	)
	if filter.ScheduleID != "" {
		args = append(args, filter.ScheduleID)
		clauses = append(clauses, fmt.Sprintf("schedule_id = $%d", len(args)))
	}
	if filter.Stream != "" {
		args = append(args, filter.Stream)
		clauses = append(clauses, fmt.Sprintf("stream = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var executions []models.ScheduleExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return executions
		}
		executions = append(executions, execution)
	}
	return executions
}

func (r *postgresRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *postgresRepository) lockSchedule(ctx context.Context, tx pgx.Tx, id string) (models.AdSchedule, error) {
	row := tx.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM ad_schedules WHERE id = $1 FOR UPDATE`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AdSchedule{}, scheduler.ErrScheduleNotFound
	}
	if err != nil {
		return models.AdSchedule{}, fmt.Errorf("load schedule %s: %w", id, err)
	}
	return schedule, nil
}

func (r *postgresRepository) lockExecution(ctx context.Context, tx pgx.Tx, id string) (models.ScheduleExecution, error) {
	row := tx.QueryRow(ctx, `SELECT `+executionColumns+` FROM schedule_executions WHERE id = $1 FOR UPDATE`, id)
	execution, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScheduleExecution{}, ErrExecutionNotFound
	}
	if err != nil {
		return models.ScheduleExecution{}, fmt.Errorf("load execution %s: %w", id, err)
	}
	return execution, nil
}

func (r *postgresRepository) saveSchedule(ctx context.Context, tx pgx.Tx, schedule models.AdSchedule) error {
	recurrence, restrictions, err := marshalSchedulePolicy(schedule)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE ad_schedules SET
		stream = $2, type = $3, duration = $4, pre_roll = $5, enabled = $6,
		status = $7, recurrence = $8, restrictions = $9, next_trigger = $10,
		last_triggered = $11, trigger_count = $12, failure_streak = $13,
		updated_at = $14
		WHERE id = $1`,
		schedule.ID, schedule.Stream, string(schedule.Type), schedule.Duration,
		schedule.PreRoll, schedule.Enabled, string(schedule.Status), recurrence,
		restrictions, schedule.NextTrigger, schedule.LastTriggered,
		schedule.TriggerCount, schedule.FailureStreak, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", schedule.ID, err)
	}
	return nil
}

func (r *postgresRepository) insertExecution(ctx context.Context, tx pgx.Tx, execution models.ScheduleExecution) error {
	result, err := marshalExecutionResult(execution)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO schedule_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		execution.ID, execution.ScheduleID, execution.Stream,
		execution.ScheduledTime, execution.ActualTriggerTime,
		string(execution.Status), result, execution.RetryCount,
		execution.MaxRetries, execution.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", execution.ID, err)
	}
	return nil
}

func (r *postgresRepository) saveExecution(ctx context.Context, tx pgx.Tx, execution models.ScheduleExecution) error {
	result, err := marshalExecutionResult(execution)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE schedule_executions SET
		actual_trigger_time = $2, status = $3, result = $4, retry_count = $5
		WHERE id = $1`,
		execution.ID, execution.ActualTriggerTime, string(execution.Status),
		result, execution.RetryCount)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", execution.ID, err)
	}
	return nil
}

func marshalExecutionResult(execution models.ScheduleExecution) ([]byte, error) {
	if execution.Result == nil {
		return nil, nil
	}
	result, err := json.Marshal(execution.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal execution result: %w", err)
	}
	return result, nil
}
