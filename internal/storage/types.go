package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
)

// ErrExecutionNotFound reports an unknown execution ID. Schedule lookups use
// the scheduler package's contract errors so the dispatcher and the API map
// them uniformly.
var ErrExecutionNotFound = errors.New("execution not found")

// ValidationError marks input the caller can correct. API handlers translate
// it to a 400 response.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// CreateScheduleParams captures the attributes that can be set when creating
// an ad schedule. Enabled defaults to true when nil.
type CreateScheduleParams struct {
	Stream       string
	Type         models.ScheduleType
	Duration     int
	PreRoll      int
	Enabled      *bool
	Recurrence   models.Recurrence
	Restrictions *models.Restrictions
}

// ScheduleUpdate carries a partial schedule mutation. Nil fields keep their
// current value; ClearRestrictions removes the restriction policy entirely.
type ScheduleUpdate struct {
	Stream            *string
	Type              *models.ScheduleType
	Duration          *int
	PreRoll           *int
	Enabled           *bool
	Status            *models.ScheduleStatus
	Recurrence        *models.Recurrence
	Restrictions      *models.Restrictions
	ClearRestrictions bool
}

// ScheduleFilter narrows ListSchedules. Zero values match everything; a
// positive Limit caps the result after sorting oldest first.
type ScheduleFilter struct {
	Stream  string
	Status  models.ScheduleStatus
	Enabled *bool
	Limit   int
}

// ExecutionFilter narrows ListExecutions. Zero values match everything; a
// positive Limit caps the result after sorting newest first.
type ExecutionFilter struct {
	ScheduleID string
	Stream     string
	Status     models.ExecutionStatus
	Limit      int
}

func validateCreateScheduleParams(params CreateScheduleParams) error {
	if strings.TrimSpace(params.Stream) == "" {
		return invalidf("stream is required")
	}
	if !models.ValidScheduleType(params.Type) {
		return invalidf("unknown schedule type %q", params.Type)
	}
	if params.Duration <= 0 {
		return invalidf("duration must be positive")
	}
	if params.PreRoll < 0 {
		return invalidf("preRoll must not be negative")
	}
	if err := scheduler.ValidateRecurrence(params.Recurrence); err != nil {
		return invalidf("invalid recurrence: %v", err)
	}
	return validateRestrictions(params.Restrictions)
}

func validateScheduleUpdate(update ScheduleUpdate) error {
	if update.Stream != nil && strings.TrimSpace(*update.Stream) == "" {
		return invalidf("stream cannot be empty")
	}
	if update.Type != nil && !models.ValidScheduleType(*update.Type) {
		return invalidf("unknown schedule type %q", *update.Type)
	}
	if update.Duration != nil && *update.Duration <= 0 {
		return invalidf("duration must be positive")
	}
	if update.PreRoll != nil && *update.PreRoll < 0 {
		return invalidf("preRoll must not be negative")
	}
	if update.Status != nil && !models.ValidScheduleStatus(*update.Status) {
		return invalidf("unknown schedule status %q", *update.Status)
	}
	if update.Recurrence != nil {
		if err := scheduler.ValidateRecurrence(*update.Recurrence); err != nil {
			return invalidf("invalid recurrence: %v", err)
		}
	}
	if update.Restrictions != nil {
		return validateRestrictions(update.Restrictions)
	}
	return nil
}

// applyScheduleUpdate mutates a loaded schedule in place. Changing the
// recurrence rule recomputes the next trigger time; reactivating a parked
// schedule clears the failure streak and recomputes the trigger when none is
// set. The caller persists the result.
func applyScheduleUpdate(schedule *models.AdSchedule, update ScheduleUpdate, now time.Time) {
	if update.Stream != nil {
		schedule.Stream = strings.TrimSpace(*update.Stream)
	}
	if update.Type != nil {
		schedule.Type = *update.Type
	}
	if update.Duration != nil {
		schedule.Duration = *update.Duration
	}
	if update.PreRoll != nil {
		schedule.PreRoll = *update.PreRoll
	}
	if update.Enabled != nil {
		schedule.Enabled = *update.Enabled
	}
	if update.Status != nil {
		if *update.Status == models.ScheduleActive && schedule.Status != models.ScheduleActive {
			schedule.FailureStreak = 0
		}
		schedule.Status = *update.Status
	}
	if update.ClearRestrictions {
		schedule.Restrictions = nil
	} else if update.Restrictions != nil {
		schedule.Restrictions = cloneRestrictions(update.Restrictions)
	}
	if update.Recurrence != nil {
		schedule.Recurrence = *update.Recurrence
		schedule.NextTrigger = nil
		if next, ok := scheduler.NextFire(schedule.Recurrence, now); ok {
			schedule.NextTrigger = &next
		}
	} else if schedule.Dispatchable() && schedule.NextTrigger == nil {
		if next, ok := scheduler.NextFire(schedule.Recurrence, now); ok {
			schedule.NextTrigger = &next
		}
	}
	schedule.UpdatedAt = now
}

func validateRestrictions(restrictions *models.Restrictions) error {
	if restrictions == nil {
		return nil
	}
	if restrictions.MaxPerHour < 0 {
		return invalidf("maxPerHour must not be negative")
	}
	if restrictions.MinInterval < 0 {
		return invalidf("minInterval must not be negative")
	}
	if restrictions.Content != nil && restrictions.Content.MaxPerDay < 0 {
		return invalidf("maxPerDay must not be negative")
	}
	for i, window := range restrictions.BlackoutPeriods {
		if window.Start.IsZero() || window.End.IsZero() {
			return invalidf("blackout period %d requires start and end", i)
		}
		if !window.End.After(window.Start) {
			return invalidf("blackout period %d must end after it starts", i)
		}
	}
	return nil
}

func cloneRestrictions(restrictions *models.Restrictions) *models.Restrictions {
	if restrictions == nil {
		return nil
	}
	cloned := *restrictions
	if restrictions.BlackoutPeriods != nil {
		cloned.BlackoutPeriods = append([]models.BlackoutPeriod(nil), restrictions.BlackoutPeriods...)
	}
	if restrictions.Content != nil {
		content := *restrictions.Content
		cloned.Content = &content
	}
	return &cloned
}

func cloneSchedule(schedule models.AdSchedule) models.AdSchedule {
	cloned := schedule
	cloned.Restrictions = cloneRestrictions(schedule.Restrictions)
	if schedule.Recurrence.Days != nil {
		cloned.Recurrence.Days = append([]int(nil), schedule.Recurrence.Days...)
	}
	cloned.NextTrigger = cloneTime(schedule.NextTrigger)
	cloned.LastTriggered = cloneTime(schedule.LastTriggered)
	return cloned
}

func cloneExecution(execution models.ScheduleExecution) models.ScheduleExecution {
	cloned := execution
	cloned.ActualTriggerTime = cloneTime(execution.ActualTriggerTime)
	if execution.Result != nil {
		result := *execution.Result
		cloned.Result = &result
	}
	return cloned
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
