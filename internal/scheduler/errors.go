package scheduler

import "errors"

// Contract errors shared between the dispatcher and the stores that back it.
var (
	// ErrScheduleNotFound reports an unknown schedule identifier.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrScheduleInactive reports a schedule that is disabled or not in the
	// active status. Dispatch attempts against it are rejected, not queued.
	ErrScheduleInactive = errors.New("schedule is not active")

	// ErrExecutionPending reports that a dispatch was attempted while a
	// previous execution for the same schedule has not yet resolved.
	ErrExecutionPending = errors.New("an execution is already pending for this schedule")
)
