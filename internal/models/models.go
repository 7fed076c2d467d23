package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleType classifies the ad-break intent carried by a schedule. Every
// type ultimately resolves to a CUE-OUT/CUE-IN pair on the wire; the richer
// set exists so operators can express placement semantics (pre/mid/post roll)
// without the two-valued cue protocol leaking into schedule management.
type ScheduleType string

const (
	ScheduleCueOut   ScheduleType = "CUE-OUT"
	ScheduleBreak    ScheduleType = "BREAK"
	SchedulePreroll  ScheduleType = "PREROLL"
	ScheduleMidroll  ScheduleType = "MIDROLL"
	SchedulePostroll ScheduleType = "POSTROLL"
)

// CueType is the wire-level SCTE-35 marker kind accepted by the stream
// control boundary.
type CueType string

const (
	CueOut CueType = "CUE-OUT"
	CueIn  CueType = "CUE-IN"
)

var cueMapping = map[ScheduleType]CueType{
	ScheduleCueOut:   CueOut,
	ScheduleBreak:    CueOut,
	SchedulePreroll:  CueOut,
	ScheduleMidroll:  CueOut,
	SchedulePostroll: CueOut,
}

// CueTypeFor resolves a schedule type to the cue marker sent to the boundary.
// The second return value reports whether the schedule type is known.
func CueTypeFor(t ScheduleType) (CueType, bool) {
	cue, ok := cueMapping[t]
	return cue, ok
}

// ValidScheduleType reports whether the provided type is part of the mapping
// table.
func ValidScheduleType(t ScheduleType) bool {
	_, ok := cueMapping[t]
	return ok
}

// ScheduleStatus tracks the operational state of a schedule. Anything other
// than active makes the schedule inert regardless of timing.
type ScheduleStatus string

const (
	ScheduleActive  ScheduleStatus = "active"
	SchedulePaused  ScheduleStatus = "paused"
	ScheduleExpired ScheduleStatus = "expired"
	ScheduleErrored ScheduleStatus = "error"
)

// ValidScheduleStatus reports whether the status is one of the known states.
func ValidScheduleStatus(s ScheduleStatus) bool {
	switch s {
	case ScheduleActive, SchedulePaused, ScheduleExpired, ScheduleErrored:
		return true
	}
	return false
}

// RecurrenceType tags the recurrence variant of a schedule.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceHourly  RecurrenceType = "hourly"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceCustom  RecurrenceType = "custom"
)

// Recurrence describes when a schedule re-fires. Time is a wall-clock value
// in "HH:MM" (UTC) used by the daily, weekly, and monthly variants. Days holds
// weekday numbers 0 (Sunday) through 6 (Saturday) for the weekly variant.
// Expression carries a standard cron expression for the custom variant.
type Recurrence struct {
	Type       RecurrenceType `json:"type"`
	Interval   int            `json:"interval,omitempty"`
	Time       string         `json:"time,omitempty"`
	Days       []int          `json:"days,omitempty"`
	Expression string         `json:"expression,omitempty"`
}

// ParseClock splits an "HH:MM" wall-clock value into its hour and minute
// components. An empty value parses as midnight.
func ParseClock(value string) (hour, minute int, err error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(trimmed, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q, expected HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in clock value %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in clock value %q", value)
	}
	return hour, minute, nil
}

// BlackoutPeriod is a window during which no scheduled ad break may fire.
type BlackoutPeriod struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

// ContentRestrictions caps execution volume per calendar day.
type ContentRestrictions struct {
	MaxPerDay int `json:"maxPerDay,omitempty"`
}

// Restrictions collects the policy constraints evaluated before each fire.
// A zero value for any field means the corresponding check does not apply.
type Restrictions struct {
	MaxPerHour      int                  `json:"maxPerHour,omitempty"`
	MinInterval     int                  `json:"minInterval,omitempty"`
	BlackoutPeriods []BlackoutPeriod     `json:"blackoutPeriods,omitempty"`
	Content         *ContentRestrictions `json:"contentRestrictions,omitempty"`
}

// AdSchedule is a recurring ad-break intent targeting one output stream.
type AdSchedule struct {
	ID            string         `json:"id"`
	Stream        string         `json:"stream"`
	Type          ScheduleType   `json:"type"`
	Duration      int            `json:"duration"`
	PreRoll       int            `json:"preRoll"`
	Enabled       bool           `json:"enabled"`
	Status        ScheduleStatus `json:"status"`
	Recurrence    Recurrence     `json:"recurrence"`
	Restrictions  *Restrictions  `json:"restrictions,omitempty"`
	NextTrigger   *time.Time     `json:"nextTrigger,omitempty"`
	LastTriggered *time.Time     `json:"lastTriggered,omitempty"`
	TriggerCount  int            `json:"triggerCount"`
	FailureStreak int            `json:"failureStreak,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Dispatchable reports whether the schedule may be considered for firing at
// all. Timing is checked separately against NextTrigger.
func (s AdSchedule) Dispatchable() bool {
	return s.Enabled && s.Status == ScheduleActive
}

// ExecutionStatus tracks one attempt to fire a schedule. The terminal states
// are completed, failed, and skipped.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionTriggered ExecutionStatus = "triggered"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// Terminal reports whether the status is a resting state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionSkipped:
		return true
	}
	return false
}

// ValidExecutionStatus reports whether the status is a known state.
func ValidExecutionStatus(s ExecutionStatus) bool {
	switch s {
	case ExecutionPending, ExecutionTriggered, ExecutionCompleted, ExecutionFailed, ExecutionSkipped:
		return true
	}
	return false
}

// ExecutionResult captures the outcome of one attempted fire. EventID holds
// the external cue event identifier returned by the stream control boundary.
type ExecutionResult struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ScheduleExecution is one row in the execution ledger: a single attempt to
// fire a schedule at a specific due time.
type ScheduleExecution struct {
	ID                string           `json:"id"`
	ScheduleID        string           `json:"scheduleId"`
	Stream            string           `json:"stream"`
	ScheduledTime     time.Time        `json:"scheduledTime"`
	ActualTriggerTime *time.Time       `json:"actualTriggerTime,omitempty"`
	Status            ExecutionStatus  `json:"status"`
	Result            *ExecutionResult `json:"result,omitempty"`
	RetryCount        int              `json:"retryCount"`
	MaxRetries        int              `json:"maxRetries"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// StreamStatus tracks the lifecycle of a live output.
type StreamStatus string

const (
	StreamStarting StreamStatus = "starting"
	StreamLive     StreamStatus = "live"
	StreamStopping StreamStatus = "stopping"
	StreamStopped  StreamStatus = "stopped"
	StreamErrored  StreamStatus = "error"
)

// StreamHealth grades a stream by its latest metrics sample.
type StreamHealth string

const (
	HealthGood     StreamHealth = "good"
	HealthWarning  StreamHealth = "warning"
	HealthCritical StreamHealth = "critical"
)

// StreamMetrics is one observed sample for a live output.
type StreamMetrics struct {
	BitrateKbps       int   `json:"bitrateKbps"`
	TargetBitrateKbps int   `json:"targetBitrateKbps,omitempty"`
	LatencyMs         int   `json:"latencyMs"`
	UptimeSeconds     int64 `json:"uptimeSeconds"`
}

// StreamRuntime is the observed state of one live output stream. OutputURLs
// maps output-format names (hls, dash, srt, rtmp, rtsp) to delivery URLs.
type StreamRuntime struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     StreamStatus      `json:"status"`
	OutputURLs map[string]string `json:"outputUrls,omitempty"`
	Viewers    int               `json:"viewers"`
	Metrics    StreamMetrics     `json:"metrics"`
	Health     StreamHealth      `json:"health"`
	StartedAt  time.Time         `json:"startedAt"`
	StoppedAt  *time.Time        `json:"stoppedAt,omitempty"`
}
