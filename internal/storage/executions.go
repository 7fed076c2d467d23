package storage

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
)

// BeginExecution atomically admits one fire attempt for a schedule. It
// re-checks that the schedule is still dispatchable and that no other
// execution is in flight, so concurrent tick and manual triggers cannot both
// proceed.
func (s *Storage) BeginExecution(scheduleID string, scheduledTime time.Time, maxRetries int) (models.ScheduleExecution, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.data.Schedules[scheduleID]
	if !ok {
		return models.ScheduleExecution{}, scheduler.ErrScheduleNotFound
	}
	if !schedule.Dispatchable() {
		return models.ScheduleExecution{}, scheduler.ErrScheduleInactive
	}
	for _, execution := range s.data.Executions {
		if execution.ScheduleID == scheduleID && !execution.Status.Terminal() {
			return models.ScheduleExecution{}, scheduler.ErrExecutionPending
		}
	}

	now := s.clock()
	execution := models.ScheduleExecution{
		ID:            uuid.NewString(),
		ScheduleID:    scheduleID,
		Stream:        schedule.Stream,
		ScheduledTime: scheduledTime.UTC(),
		Status:        models.ExecutionPending,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
	}
	s.data.Executions[execution.ID] = execution
	if err := s.persist(); err != nil {
		delete(s.data.Executions, execution.ID)
		return models.ScheduleExecution{}, err
	}
	return cloneExecution(execution), nil
}

// ResolveExecution finishes an in-flight execution with the injection result
// and applies the outcome to the owning schedule: the trigger counter always
// advances, the failure streak resets on success and parks the schedule in
// the error state when it reaches the threshold, and the next trigger time is
// derived from the execution's due time so the cadence never drifts.
func (s *Storage) ResolveExecution(executionID string, result models.ExecutionResult, retryCount int) (models.ScheduleExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.data.Executions[executionID]
	if !ok {
		return models.ScheduleExecution{}, ErrExecutionNotFound
	}

	now := s.clock()
	previousExecution := execution
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
	s.data.Executions[executionID] = execution

	var previousSchedule models.AdSchedule
	schedule, scheduleExists := s.data.Schedules[execution.ScheduleID]
	if scheduleExists {
		previousSchedule = schedule
		applyExecutionOutcome(&schedule, execution, now)
		s.data.Schedules[schedule.ID] = schedule
	}

	if err := s.persist(); err != nil {
		s.data.Executions[executionID] = previousExecution
		if scheduleExists {
			s.data.Schedules[previousSchedule.ID] = previousSchedule
		}
		return models.ScheduleExecution{}, err
	}
	return cloneExecution(execution), nil
}

// applyExecutionOutcome folds one attempted fire into the schedule. Both
// completed and failed attempts count as triggers; only completed fires reset
// the failure streak. Shared by the JSON and Postgres drivers so the outcome
// semantics cannot drift between them.
func applyExecutionOutcome(schedule *models.AdSchedule, execution models.ScheduleExecution, now time.Time) {
	schedule.TriggerCount++
	fired := execution.ScheduledTime
	schedule.LastTriggered = &fired
	if execution.Status == models.ExecutionCompleted {
		schedule.FailureStreak = 0
	} else {
		schedule.FailureStreak++
		if schedule.FailureStreak >= errorFailureThreshold {
			schedule.Status = models.ScheduleErrored
		}
	}
	advanceTrigger(schedule, execution.ScheduledTime)
	schedule.UpdatedAt = now
}

// advanceTrigger moves the schedule to its next cadence slot strictly after
// the due time just consumed. One-shot schedules expire instead.
func advanceTrigger(schedule *models.AdSchedule, consumed time.Time) {
	if next, ok := scheduler.NextFire(schedule.Recurrence, consumed); ok {
		schedule.NextTrigger = &next
		return
	}
	schedule.NextTrigger = nil
	if schedule.Status == models.ScheduleActive {
		schedule.Status = models.ScheduleExpired
	}
}

// skipConsumesTrigger reports whether a denied fire at scheduledTime consumed
// the schedule's due slot. A denied manual trigger ahead of the due time, or
// against a schedule with no trigger armed, withholds one firing without
// touching the clock.
func skipConsumesTrigger(schedule models.AdSchedule, scheduledTime time.Time) bool {
	return schedule.NextTrigger != nil && !scheduledTime.Before(*schedule.NextTrigger)
}

// RecordSkip writes a skipped ledger row for a denied fire. When the skip
// consumed the due trigger the cadence advances exactly as a fire would; the
// trigger counter and failure streak are never touched.
func (s *Storage) RecordSkip(scheduleID string, scheduledTime time.Time, reason string) (models.ScheduleExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.data.Schedules[scheduleID]
	if !ok {
		return models.ScheduleExecution{}, scheduler.ErrScheduleNotFound
	}

	now := s.clock()
	execution := models.ScheduleExecution{
		ID:            uuid.NewString(),
		ScheduleID:    scheduleID,
		Stream:        schedule.Stream,
		ScheduledTime: scheduledTime.UTC(),
		Status:        models.ExecutionSkipped,
		Result:        &models.ExecutionResult{Success: false, Error: reason},
		CreatedAt:     now,
	}
	previousSchedule := schedule
	if skipConsumesTrigger(schedule, execution.ScheduledTime) {
		advanceTrigger(&schedule, execution.ScheduledTime)
	}
	schedule.UpdatedAt = now

	s.data.Executions[execution.ID] = execution
	s.data.Schedules[scheduleID] = schedule
	if err := s.persist(); err != nil {
		delete(s.data.Executions, execution.ID)
		s.data.Schedules[scheduleID] = previousSchedule
		return models.ScheduleExecution{}, err
	}
	return cloneExecution(execution), nil
}

// FailStalePending fails executions stuck in a non-terminal state longer than
// maxAge. A crashed dispatch attempt otherwise blocks its schedule forever
// through the pending-execution gate. Each one is treated exactly like a
// failed resolution, failure streak included.
func (s *Storage) FailStalePending(now time.Time, maxAge time.Duration) []models.ScheduleExecution {
	if maxAge <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-maxAge)
	var failed []models.ScheduleExecution
	for id, execution := range s.data.Executions {
		if execution.Status.Terminal() || execution.CreatedAt.After(cutoff) {
			continue
		}
		execution.Status = models.ExecutionFailed
		execution.Result = &models.ExecutionResult{Success: false, Error: "execution timed out"}
		s.data.Executions[id] = execution

		if schedule, ok := s.data.Schedules[execution.ScheduleID]; ok {
			applyExecutionOutcome(&schedule, execution, now)
			s.data.Schedules[schedule.ID] = schedule
		}
		failed = append(failed, cloneExecution(execution))
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	if err := s.persist(); err != nil {
		// The in-memory state is already advanced; the next successful
		// persist carries it. Stale rows must not resurface as pending.
		s.logger.Warn("persist failed after reaping stale executions",
			"error", err,
			"reaped", len(failed))
		return failed
	}
	return failed
}

// GetExecution returns the execution with the given ID.
func (s *Storage) GetExecution(id string) (models.ScheduleExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.data.Executions[id]
	if !ok {
		return models.ScheduleExecution{}, false
	}
	return cloneExecution(execution), true
}

// ExecutionsForSchedule returns the full ledger for one schedule, oldest
// first.
func (s *Storage) ExecutionsForSchedule(scheduleID string) []models.ScheduleExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var executions []models.ScheduleExecution
	for _, execution := range s.data.Executions {
		if execution.ScheduleID == scheduleID {
			executions = append(executions, cloneExecution(execution))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].CreatedAt.Before(executions[j].CreatedAt)
		}
		return executions[i].ID < executions[j].ID
	})
	return executions
}

// ListExecutions returns ledger rows matching the filter, newest first.
func (s *Storage) ListExecutions(filter ExecutionFilter) []models.ScheduleExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	executions := make([]models.ScheduleExecution, 0)
	for _, execution := range s.data.Executions {
		if filter.ScheduleID != "" && execution.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.Stream != "" && execution.Stream != filter.Stream {
			continue
		}
		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}
		executions = append(executions, cloneExecution(execution))
	}
	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].CreatedAt.After(executions[j].CreatedAt)
		}
		return executions[i].ID > executions[j].ID
	})
	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}
	return executions
}
