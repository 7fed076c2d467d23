package scheduler

import (
	"testing"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

var restrictionNow = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

func restrictedSchedule(r *models.Restrictions) models.AdSchedule {
	return models.AdSchedule{
		ID:           "sched-1",
		Stream:       "news-hd",
		Type:         models.ScheduleBreak,
		Enabled:      true,
		Status:       models.ScheduleActive,
		Restrictions: r,
	}
}

func historyEntry(status models.ExecutionStatus, scheduled time.Time) models.ScheduleExecution {
	return models.ScheduleExecution{
		ID:            "exec-" + string(status) + scheduled.Format("150405"),
		ScheduleID:    "sched-1",
		Stream:        "news-hd",
		ScheduledTime: scheduled,
		Status:        status,
	}
}

func TestEvaluateRestrictionsAdmitsWithoutPolicy(t *testing.T) {
	decision := EvaluateRestrictions(restrictedSchedule(nil), nil, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected admit, got denial %q", decision.Reason)
	}
}

func TestEvaluateRestrictionsBlackout(t *testing.T) {
	schedule := restrictedSchedule(&models.Restrictions{
		BlackoutPeriods: []models.BlackoutPeriod{{
			Start:  restrictionNow.Add(-time.Hour),
			End:    restrictionNow.Add(time.Hour),
			Reason: "news embargo",
		}},
	})

	decision := EvaluateRestrictions(schedule, nil, restrictionNow)
	if decision.Allowed {
		t.Fatal("expected denial inside blackout window")
	}
	if decision.Reason != "Blackout period: news embargo" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}

	// Window edges are inclusive.
	decision = EvaluateRestrictions(schedule, nil, restrictionNow.Add(time.Hour))
	if decision.Allowed {
		t.Fatal("expected denial at blackout end")
	}

	decision = EvaluateRestrictions(schedule, nil, restrictionNow.Add(2*time.Hour))
	if !decision.Allowed {
		t.Fatalf("expected admit outside blackout, got %q", decision.Reason)
	}
}

func TestEvaluateRestrictionsDailyCap(t *testing.T) {
	schedule := restrictedSchedule(&models.Restrictions{
		Content: &models.ContentRestrictions{MaxPerDay: 2},
	})

	history := []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-5*time.Hour)),
		historyEntry(models.ExecutionFailed, restrictionNow.Add(-2*time.Hour)),
	}
	decision := EvaluateRestrictions(schedule, history, restrictionNow)
	if decision.Allowed {
		t.Fatal("expected denial at daily cap")
	}
	if decision.Reason != "Maximum daily executions reached" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}

	// Skipped ledger rows never consume budget.
	history = []models.ScheduleExecution{
		historyEntry(models.ExecutionSkipped, restrictionNow.Add(-5*time.Hour)),
		historyEntry(models.ExecutionSkipped, restrictionNow.Add(-4*time.Hour)),
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-3*time.Hour)),
	}
	decision = EvaluateRestrictions(schedule, history, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected skips to be free, got %q", decision.Reason)
	}

	// Yesterday's fires do not count against today.
	history = []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.AddDate(0, 0, -1)),
		historyEntry(models.ExecutionCompleted, restrictionNow.AddDate(0, 0, -1).Add(time.Hour)),
	}
	decision = EvaluateRestrictions(schedule, history, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected fresh daily budget, got %q", decision.Reason)
	}
}

func TestEvaluateRestrictionsHourlyCap(t *testing.T) {
	schedule := restrictedSchedule(&models.Restrictions{MaxPerHour: 1})

	// A failed attempt still consumed the hourly slot.
	history := []models.ScheduleExecution{
		historyEntry(models.ExecutionFailed, restrictionNow.Add(-10*time.Minute)),
	}
	decision := EvaluateRestrictions(schedule, history, restrictionNow)
	if decision.Allowed {
		t.Fatal("expected denial at hourly cap")
	}
	if decision.Reason != "Maximum hourly executions reached" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}

	history = []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-90*time.Minute)),
	}
	decision = EvaluateRestrictions(schedule, history, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected previous hour to be free, got %q", decision.Reason)
	}
}

func TestEvaluateRestrictionsMinInterval(t *testing.T) {
	schedule := restrictedSchedule(&models.Restrictions{MinInterval: 600})

	history := []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-5*time.Minute)),
	}
	decision := EvaluateRestrictions(schedule, history, restrictionNow)
	if decision.Allowed {
		t.Fatal("expected denial inside minimum interval")
	}
	if decision.Reason != "Minimum interval not reached" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}

	// Failed attempts do not reset the spacing clock.
	history = []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-20*time.Minute)),
		historyEntry(models.ExecutionFailed, restrictionNow.Add(-5*time.Minute)),
	}
	decision = EvaluateRestrictions(schedule, history, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected admit past interval, got %q", decision.Reason)
	}

	decision = EvaluateRestrictions(schedule, nil, restrictionNow)
	if !decision.Allowed {
		t.Fatalf("expected admit with no completed history, got %q", decision.Reason)
	}
}

func TestEvaluateRestrictionsCheckOrder(t *testing.T) {
	schedule := restrictedSchedule(&models.Restrictions{
		MaxPerHour: 1,
		Content:    &models.ContentRestrictions{MaxPerDay: 1},
		BlackoutPeriods: []models.BlackoutPeriod{{
			Start:  restrictionNow.Add(-time.Minute),
			End:    restrictionNow.Add(time.Minute),
			Reason: "maintenance",
		}},
	})
	history := []models.ScheduleExecution{
		historyEntry(models.ExecutionCompleted, restrictionNow.Add(-10*time.Minute)),
	}

	decision := EvaluateRestrictions(schedule, history, restrictionNow)
	if decision.Allowed {
		t.Fatal("expected denial")
	}
	if decision.Reason != "Blackout period: maintenance" {
		t.Fatalf("expected blackout to win, got %q", decision.Reason)
	}

	schedule.Restrictions.BlackoutPeriods = nil
	decision = EvaluateRestrictions(schedule, history, restrictionNow)
	if decision.Reason != "Maximum daily executions reached" {
		t.Fatalf("expected daily cap before hourly cap, got %q", decision.Reason)
	}
}
