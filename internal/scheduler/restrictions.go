package scheduler

import (
	"fmt"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

// Decision is the outcome of a restriction evaluation. A denied decision
// carries the operator-facing reason recorded on the skipped execution.
type Decision struct {
	Allowed bool
	Reason  string
}

func admit() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// EvaluateRestrictions decides whether a schedule may fire at the reference
// time given its execution history. Checks short-circuit on the first
// failure: blackout windows, then the daily cap, then the hourly cap, then
// minimum spacing. A schedule without restrictions always admits.
//
// Cap counting considers attempted fires only; skipped ledger rows are
// bookkeeping and never consume budget. Minimum spacing is measured against
// the most recent completed execution; failed attempts do not advance it.
func EvaluateRestrictions(schedule models.AdSchedule, history []models.ScheduleExecution, now time.Time) Decision {
	restrictions := schedule.Restrictions
	if restrictions == nil {
		return admit()
	}
	now = now.UTC()

	for _, window := range restrictions.BlackoutPeriods {
		if !now.Before(window.Start) && !now.After(window.End) {
			return deny(fmt.Sprintf("Blackout period: %s", window.Reason))
		}
	}

	if restrictions.Content != nil && restrictions.Content.MaxPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if countAttempted(history, dayStart, dayStart.AddDate(0, 0, 1)) >= restrictions.Content.MaxPerDay {
			return deny("Maximum daily executions reached")
		}
	}

	if restrictions.MaxPerHour > 0 {
		hourStart := now.Truncate(time.Hour)
		if countAttempted(history, hourStart, hourStart.Add(time.Hour)) >= restrictions.MaxPerHour {
			return deny("Maximum hourly executions reached")
		}
	}

	if restrictions.MinInterval > 0 {
		if last, ok := lastCompleted(history); ok {
			if now.Sub(last.ScheduledTime) < time.Duration(restrictions.MinInterval)*time.Second {
				return deny("Minimum interval not reached")
			}
		}
	}

	return admit()
}

func countAttempted(history []models.ScheduleExecution, start, end time.Time) int {
	count := 0
	for _, execution := range history {
		if execution.Status == models.ExecutionSkipped {
			continue
		}
		scheduled := execution.ScheduledTime.UTC()
		if !scheduled.Before(start) && scheduled.Before(end) {
			count++
		}
	}
	return count
}

func lastCompleted(history []models.ScheduleExecution) (models.ScheduleExecution, bool) {
	var latest models.ScheduleExecution
	found := false
	for _, execution := range history {
		if execution.Status != models.ExecutionCompleted {
			continue
		}
		if !found || execution.ScheduledTime.After(latest.ScheduledTime) {
			latest = execution
			found = true
		}
	}
	return latest, found
}
