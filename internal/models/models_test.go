package models

import "testing"

func TestCueTypeForMapsAllScheduleTypes(t *testing.T) {
	cases := []struct {
		scheduleType ScheduleType
		want         CueType
	}{
		{ScheduleCueOut, CueOut},
		{ScheduleBreak, CueOut},
		{SchedulePreroll, CueOut},
		{ScheduleMidroll, CueOut},
		{SchedulePostroll, CueOut},
	}
	for _, tc := range cases {
		cue, ok := CueTypeFor(tc.scheduleType)
		if !ok {
			t.Fatalf("CueTypeFor(%s) reported unknown type", tc.scheduleType)
		}
		if cue != tc.want {
			t.Fatalf("CueTypeFor(%s) = %s, want %s", tc.scheduleType, cue, tc.want)
		}
	}
}

func TestCueTypeForRejectsUnknownType(t *testing.T) {
	if _, ok := CueTypeFor(ScheduleType("SQUEEZE-BACK")); ok {
		t.Fatal("expected unknown schedule type to be rejected")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		value   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"", 0, 0, false},
		{"00:00", 0, 0, false},
		{"09:30", 9, 30, false},
		{"23:59", 23, 59, false},
		{" 12:05 ", 12, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"12", 0, 0, true},
	}
	for _, tc := range cases {
		hour, minute, err := ParseClock(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q) expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q) returned error: %v", tc.value, err)
		}
		if hour != tc.hour || minute != tc.minute {
			t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", tc.value, hour, minute, tc.hour, tc.minute)
		}
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionSkipped}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []ExecutionStatus{ExecutionPending, ExecutionTriggered} {
		if status.Terminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestDispatchable(t *testing.T) {
	schedule := AdSchedule{Enabled: true, Status: ScheduleActive}
	if !schedule.Dispatchable() {
		t.Fatal("enabled active schedule should be dispatchable")
	}
	schedule.Enabled = false
	if schedule.Dispatchable() {
		t.Fatal("disabled schedule must be inert")
	}
	schedule.Enabled = true
	schedule.Status = SchedulePaused
	if schedule.Dispatchable() {
		t.Fatal("paused schedule must be inert")
	}
}
