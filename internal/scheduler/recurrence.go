package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

// NextFire computes the next eligible fire time for a recurrence rule,
// strictly after the reference time. The second return value is false when
// the rule never re-fires (none, or an unparseable custom expression).
//
// The computation is deterministic: the same (recurrence, reference) pair
// always yields the same result. All arithmetic happens in UTC.
func NextFire(rec models.Recurrence, ref time.Time) (time.Time, bool) {
	ref = ref.UTC()
	switch rec.Type {
	case models.RecurrenceNone:
		return time.Time{}, false
	case models.RecurrenceHourly:
		return nextHourly(rec, ref), true
	case models.RecurrenceDaily:
		return nextDaily(rec, ref), true
	case models.RecurrenceWeekly:
		return nextWeekly(rec, ref)
	case models.RecurrenceMonthly:
		return nextMonthly(rec, ref), true
	case models.RecurrenceCustom:
		return nextCustom(rec, ref)
	}
	return time.Time{}, false
}

// ValidateRecurrence rejects rules that NextFire cannot evaluate. Custom
// expressions are validated eagerly so malformed schedules never reach the
// dispatcher.
func ValidateRecurrence(rec models.Recurrence) error {
	if rec.Interval < 0 {
		return fmt.Errorf("recurrence interval must not be negative")
	}
	switch rec.Type {
	case models.RecurrenceNone, models.RecurrenceHourly:
		return nil
	case models.RecurrenceDaily, models.RecurrenceMonthly:
		_, _, err := models.ParseClock(rec.Time)
		return err
	case models.RecurrenceWeekly:
		if _, _, err := models.ParseClock(rec.Time); err != nil {
			return err
		}
		if len(rec.Days) == 0 {
			return fmt.Errorf("weekly recurrence requires at least one day")
		}
		for _, day := range rec.Days {
			if day < 0 || day > 6 {
				return fmt.Errorf("weekly recurrence day %d out of range 0-6", day)
			}
		}
		return nil
	case models.RecurrenceCustom:
		if strings.TrimSpace(rec.Expression) == "" {
			return fmt.Errorf("custom recurrence requires a cron expression")
		}
		if _, err := cron.ParseStandard(rec.Expression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", rec.Expression, err)
		}
		return nil
	}
	return fmt.Errorf("unknown recurrence type %q", rec.Type)
}

func intervalOrDefault(interval int) int {
	if interval <= 0 {
		return 1
	}
	return interval
}

func nextHourly(rec models.Recurrence, ref time.Time) time.Time {
	interval := intervalOrDefault(rec.Interval)
	return ref.Truncate(time.Hour).Add(time.Duration(interval) * time.Hour)
}

func nextDaily(rec models.Recurrence, ref time.Time) time.Time {
	hour, minute, _ := models.ParseClock(rec.Time)
	candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, intervalOrDefault(rec.Interval))
	}
	return candidate
}

func nextWeekly(rec models.Recurrence, ref time.Time) (time.Time, bool) {
	if len(rec.Days) == 0 {
		return time.Time{}, false
	}
	hour, minute, _ := models.ParseClock(rec.Time)
	startOfDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	for offset := 0; offset < 7; offset++ {
		day := startOfDay.AddDate(0, 0, offset)
		if !containsDay(rec.Days, int(day.Weekday())) {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
		if candidate.After(ref) {
			return candidate, true
		}
	}

	// Nothing left this week: wrap to the first listed day next week.
	day := startOfDay.AddDate(0, 0, 7)
	for int(day.Weekday()) != rec.Days[0] {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), true
}

func containsDay(days []int, weekday int) bool {
	for _, day := range days {
		if day == weekday {
			return true
		}
	}
	return false
}

func nextMonthly(rec models.Recurrence, ref time.Time) time.Time {
	hour, minute, _ := models.ParseClock(rec.Time)
	anchor := time.Date(ref.Year(), ref.Month(), 1, hour, minute, 0, 0, time.UTC)
	if !anchor.After(ref) {
		anchor = anchor.AddDate(0, intervalOrDefault(rec.Interval), 0)
	}
	return anchor
}

func nextCustom(rec models.Recurrence, ref time.Time) (time.Time, bool) {
	schedule, err := cron.ParseStandard(rec.Expression)
	if err != nil {
		return time.Time{}, false
	}
	next := schedule.Next(ref)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.UTC(), true
}
