package scheduler

import (
	"testing"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

func TestNextFireHourlyTruncatesToBoundary(t *testing.T) {
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)

	next, ok := NextFire(models.Recurrence{Type: models.RecurrenceHourly, Interval: 1}, ref)
	if !ok {
		t.Fatal("expected hourly recurrence to fire")
	}
	if want := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	next, ok = NextFire(models.Recurrence{Type: models.RecurrenceHourly, Interval: 3}, ref)
	if !ok {
		t.Fatal("expected hourly recurrence to fire")
	}
	if want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextFireIsDeterministic(t *testing.T) {
	rec := models.Recurrence{Type: models.RecurrenceDaily, Time: "06:30"}
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)

	first, ok := NextFire(rec, ref)
	if !ok {
		t.Fatal("expected daily recurrence to fire")
	}
	second, _ := NextFire(rec, ref)
	if !first.Equal(second) {
		t.Fatalf("expected deterministic result, got %s and %s", first, second)
	}
}

func TestNextFireDailyStrictlyAfterReference(t *testing.T) {
	rec := models.Recurrence{Type: models.RecurrenceDaily, Time: "09:30"}

	ref := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	next, _ := NextFire(rec, ref)
	if want := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected same-day fire %s, got %s", want, next)
	}

	// Exactly at the wall-clock time the rule rolls to the next day.
	ref = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	next, _ = NextFire(rec, ref)
	if want := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected next-day fire %s, got %s", want, next)
	}
}

func TestNextFireWeeklyScansListedDays(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)
	rec := models.Recurrence{Type: models.RecurrenceWeekly, Time: "08:00", Days: []int{5}}

	next, ok := NextFire(rec, ref)
	if !ok {
		t.Fatal("expected weekly recurrence to fire")
	}
	if want := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected Friday fire %s, got %s", want, next)
	}
}

func TestNextFireWeeklyWrapsToFirstListedDay(t *testing.T) {
	// Tuesday after the 08:00 slot has passed and Tuesday is the only
	// listed day: the rule wraps to next Tuesday.
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)
	rec := models.Recurrence{Type: models.RecurrenceWeekly, Time: "08:00", Days: []int{2}}

	next, ok := NextFire(rec, ref)
	if !ok {
		t.Fatal("expected weekly recurrence to fire")
	}
	if want := time.Date(2026, 3, 17, 8, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected wrap to %s, got %s", want, next)
	}
}

func TestNextFireMonthlyAnchorsFirstOfMonth(t *testing.T) {
	rec := models.Recurrence{Type: models.RecurrenceMonthly, Time: "06:00"}

	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)
	next, _ := NextFire(rec, ref)
	if want := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	ref = time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	next, _ = NextFire(rec, ref)
	if want := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected same-day anchor %s, got %s", want, next)
	}
}

func TestNextFireCustomCronExpression(t *testing.T) {
	rec := models.Recurrence{Type: models.RecurrenceCustom, Expression: "30 * * * *"}
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)

	next, ok := NextFire(rec, ref)
	if !ok {
		t.Fatal("expected custom recurrence to fire")
	}
	if want := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	if _, ok := NextFire(models.Recurrence{Type: models.RecurrenceCustom, Expression: "not-cron"}, ref); ok {
		t.Fatal("expected unparseable expression to never fire")
	}
}

func TestNextFireNoneNeverFires(t *testing.T) {
	if _, ok := NextFire(models.Recurrence{Type: models.RecurrenceNone}, time.Now()); ok {
		t.Fatal("expected one-shot recurrence to never re-fire")
	}
}

func TestValidateRecurrence(t *testing.T) {
	cases := []struct {
		name    string
		rec     models.Recurrence
		wantErr bool
	}{
		{"hourly", models.Recurrence{Type: models.RecurrenceHourly, Interval: 2}, false},
		{"none", models.Recurrence{Type: models.RecurrenceNone}, false},
		{"negative interval", models.Recurrence{Type: models.RecurrenceHourly, Interval: -1}, true},
		{"daily valid", models.Recurrence{Type: models.RecurrenceDaily, Time: "23:59"}, false},
		{"daily bad clock", models.Recurrence{Type: models.RecurrenceDaily, Time: "25:00"}, true},
		{"weekly valid", models.Recurrence{Type: models.RecurrenceWeekly, Time: "08:00", Days: []int{1, 3, 5}}, false},
		{"weekly no days", models.Recurrence{Type: models.RecurrenceWeekly, Time: "08:00"}, true},
		{"weekly day out of range", models.Recurrence{Type: models.RecurrenceWeekly, Time: "08:00", Days: []int{7}}, true},
		{"custom valid", models.Recurrence{Type: models.RecurrenceCustom, Expression: "*/5 * * * *"}, false},
		{"custom empty", models.Recurrence{Type: models.RecurrenceCustom}, true},
		{"custom malformed", models.Recurrence{Type: models.RecurrenceCustom, Expression: "every 5 minutes"}, true},
		{"unknown type", models.Recurrence{Type: "fortnightly"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRecurrence(tc.rec)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
