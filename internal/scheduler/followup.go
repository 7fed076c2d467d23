package scheduler

import (
	"context"
	"sync"
	"time"
)

// followupTimer abstracts time.AfterFunc so tests can fire follow-ups
// deterministically.
type followupTimer interface {
	Stop() bool
}

type timerFactory func(time.Duration, func()) followupTimer

type realTimer struct {
	timer *time.Timer
}

func (t realTimer) Stop() bool {
	return t.timer.Stop()
}

type followupEntry struct {
	timer  followupTimer
	stream string
}

// followupScheduler tracks the explicit secondary timers that close an ad
// break: a successful CUE-OUT with duration > 0 arms one CUE-IN timer per
// schedule. Timers are cancelled when the schedule is deleted or deactivated
// and when the target stream stops.
type followupScheduler struct {
	dispatcher *Dispatcher
	newTimer   timerFactory

	mu      sync.Mutex
	entries map[string]*followupEntry
}

func newFollowupScheduler(d *Dispatcher) *followupScheduler {
	return &followupScheduler{
		dispatcher: d,
		newTimer: func(delay time.Duration, fire func()) followupTimer {
			return realTimer{timer: time.AfterFunc(delay, fire)}
		},
		entries: make(map[string]*followupEntry),
	}
}

// schedule arms the CUE-IN timer for a schedule, replacing any timer still
// outstanding from a previous fire.
func (f *followupScheduler) schedule(scheduleID, stream string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entries[scheduleID]; ok {
		existing.timer.Stop()
	}
	entry := &followupEntry{stream: stream}
	entry.timer = f.newTimer(delay, func() {
		f.fire(scheduleID, stream)
	})
	f.entries[scheduleID] = entry
}

func (f *followupScheduler) fire(scheduleID, stream string) {
	f.mu.Lock()
	delete(f.entries, scheduleID)
	f.mu.Unlock()

	d := f.dispatcher
	// Re-check the schedule right before injecting: deletion or
	// deactivation since the CUE-OUT must suppress the CUE-IN.
	schedule, ok := d.store.GetSchedule(scheduleID)
	if !ok || !schedule.Dispatchable() {
		d.logger.Info("suppressed follow-up cue-in", "schedule_id", scheduleID, "stream", stream)
		d.metrics.ObserveFollowup("suppressed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.injectTimeout)
	defer cancel()
	eventID, err := d.injector.InjectCueIn(ctx, stream, map[string]string{"scheduleId": scheduleID})
	if err != nil {
		d.logger.Error("follow-up cue-in failed", "schedule_id", scheduleID, "stream", stream, "error", err)
		d.metrics.ObserveFollowup("failed")
		return
	}
	d.logger.Info("follow-up cue-in injected", "schedule_id", scheduleID, "stream", stream, "event_id", eventID)
	d.metrics.ObserveFollowup("sent")
}

func (f *followupScheduler) cancelSchedule(scheduleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[scheduleID]; ok {
		entry.timer.Stop()
		delete(f.entries, scheduleID)
	}
}

func (f *followupScheduler) cancelStream(stream string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for scheduleID, entry := range f.entries {
		if entry.stream == stream {
			entry.timer.Stop()
			delete(f.entries, scheduleID)
		}
	}
}

func (f *followupScheduler) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for scheduleID, entry := range f.entries {
		entry.timer.Stop()
		delete(f.entries, scheduleID)
	}
}

// pendingFollowups reports how many CUE-IN timers are armed. Used by tests.
func (f *followupScheduler) pendingFollowups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
