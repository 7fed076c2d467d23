package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

// ImportSnapshotToPostgres copies schedules and executions into Postgres
// verbatim. IDs, counters, and timestamps are preserved so the execution
// ledger survives the move from the JSON datastore. The import runs in one
// transaction; a failure leaves the target untouched.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, schedules []models.AdSchedule, executions []models.ScheduleExecution) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("snapshot import requires a Postgres repository")
	}
	return pg.inTx(ctx, func(tx pgx.Tx) error {
		for _, schedule := range schedules {
			recurrence, restrictions, err := marshalSchedulePolicy(schedule)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO ad_schedules (`+scheduleColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				schedule.ID, schedule.Stream, string(schedule.Type), schedule.Duration,
				schedule.PreRoll, schedule.Enabled, string(schedule.Status), recurrence,
				restrictions, schedule.NextTrigger, schedule.LastTriggered,
				schedule.TriggerCount, schedule.FailureStreak, schedule.CreatedAt,
				schedule.UpdatedAt); err != nil {
				return fmt.Errorf("import schedule %s: %w", schedule.ID, err)
			}
		}
		for _, execution := range executions {
			if err := pg.insertExecution(ctx, tx, execution); err != nil {
				return err
			}
		}
		return nil
	})
}
