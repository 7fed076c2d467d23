package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/feed"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/injector"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/observability/metrics"
)

const (
	// DefaultWindow is the due-time tolerance around a tick.
	DefaultWindow = time.Minute
	// DefaultInjectTimeout bounds one call against the stream control boundary.
	DefaultInjectTimeout = 10 * time.Second
	// DefaultMaxConcurrent bounds per-tick dispatch fan-out.
	DefaultMaxConcurrent = 8
	// DefaultMaxRetries is the retry budget recorded on new executions.
	DefaultMaxRetries = 2
)

// Store is the slice of the schedule repository the dispatcher depends on.
// Implementations must apply each mutation atomically and enforce the
// single-pending-execution invariant inside BeginExecution.
type Store interface {
	GetSchedule(id string) (models.AdSchedule, bool)
	DueSchedules(now time.Time, window time.Duration) []models.AdSchedule
	ExecutionsForSchedule(scheduleID string) []models.ScheduleExecution
	BeginExecution(scheduleID string, scheduledTime time.Time, maxRetries int) (models.ScheduleExecution, error)
	ResolveExecution(executionID string, result models.ExecutionResult, retryCount int) (models.ScheduleExecution, error)
	RecordSkip(scheduleID string, scheduledTime time.Time, reason string) (models.ScheduleExecution, error)
	FailStalePending(now time.Time, maxAge time.Duration) []models.ScheduleExecution
}

// Injector delivers cue markers to the stream control boundary.
type Injector interface {
	Inject(ctx context.Context, stream string, req injector.CueRequest) (string, error)
	InjectCueIn(ctx context.Context, stream string, metadata map[string]string) (string, error)
}

// Config assembles a Dispatcher.
type Config struct {
	Store         Store
	Injector      Injector
	Feed          feed.Feed
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Window        time.Duration
	InjectTimeout time.Duration
	MaxConcurrent int
	MaxRetries    int
	Clock         func() time.Time
}

// Dispatcher is the concurrency core: each Tick scans due schedules, applies
// restriction policy, and fans admitted fires out to the injector with
// bounded concurrency. Per-schedule serialization is enforced by the store's
// pending-execution gate, so tick-driven and manual triggers never overlap.
type Dispatcher struct {
	store         Store
	injector      Injector
	feed          feed.Feed
	logger        *slog.Logger
	metrics       *metrics.Recorder
	window        time.Duration
	injectTimeout time.Duration
	maxConcurrent int
	maxRetries    int
	clock         func() time.Time
	followups     *followupScheduler
}

// New validates the configuration and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	if cfg.Injector == nil {
		return nil, fmt.Errorf("scheduler: injector is required")
	}
	if cfg.Feed == nil {
		cfg.Feed = feed.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.InjectTimeout <= 0 {
		cfg.InjectTimeout = DefaultInjectTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	d := &Dispatcher{
		store:         cfg.Store,
		injector:      cfg.Injector,
		feed:          cfg.Feed,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		window:        cfg.Window,
		injectTimeout: cfg.InjectTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		maxRetries:    cfg.MaxRetries,
		clock:         cfg.Clock,
	}
	d.followups = newFollowupScheduler(d)
	return d, nil
}

// Tick runs one dispatch cycle: stale pending executions are failed, due
// schedules are scanned, and each one is evaluated and dispatched on its own
// goroutine. One schedule's failure never blocks the others; Tick only
// returns an error when the context is cancelled mid-cycle.
func (d *Dispatcher) Tick(ctx context.Context) error {
	now := d.clock()
	d.metrics.ObserveDispatchTick()

	for _, stale := range d.store.FailStalePending(now, d.injectTimeout+d.window) {
		d.logger.Warn("failed stale pending execution",
			"execution_id", stale.ID,
			"schedule_id", stale.ScheduleID,
			"scheduled_time", stale.ScheduledTime)
		d.metrics.ObserveExecution(string(stale.Status))
		d.publish(stale, now)
	}

	due := d.store.DueSchedules(now, d.window)
	if len(due) == 0 {
		return ctx.Err()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxConcurrent)
	for _, schedule := range due {
		schedule := schedule
		group.Go(func() error {
			d.dispatch(groupCtx, schedule, *schedule.NextTrigger, now)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// TriggerNow fires a schedule outside its cadence, sharing the dispatch path
// (and therefore the pending-execution mutual exclusion) with the tick loop.
// A denied restriction is not an error: the skipped execution is returned.
func (d *Dispatcher) TriggerNow(ctx context.Context, scheduleID string) (models.ScheduleExecution, error) {
	schedule, ok := d.store.GetSchedule(scheduleID)
	if !ok {
		return models.ScheduleExecution{}, ErrScheduleNotFound
	}
	now := d.clock()
	return d.dispatch(ctx, schedule, now, now)
}

// CancelSchedule drops any pending CUE-IN follow-up for the schedule. Callers
// invoke it when a schedule is deleted, disabled, or paused.
func (d *Dispatcher) CancelSchedule(scheduleID string) {
	d.followups.cancelSchedule(scheduleID)
}

// CancelStream drops pending CUE-IN follow-ups for every schedule targeting
// the stream. Callers invoke it when a stream stops publishing.
func (d *Dispatcher) CancelStream(stream string) {
	d.followups.cancelStream(stream)
}

// Close cancels all outstanding follow-up timers.
func (d *Dispatcher) Close() {
	d.followups.cancelAll()
}

func (d *Dispatcher) dispatch(ctx context.Context, schedule models.AdSchedule, scheduledTime, now time.Time) (models.ScheduleExecution, error) {
	history := d.store.ExecutionsForSchedule(schedule.ID)
	decision := EvaluateRestrictions(schedule, history, now)
	if !decision.Allowed {
		skipped, err := d.store.RecordSkip(schedule.ID, scheduledTime, decision.Reason)
		if err != nil {
			d.logger.Error("failed to record skipped execution", "schedule_id", schedule.ID, "error", err)
			return models.ScheduleExecution{}, err
		}
		d.logger.Info("schedule skipped",
			"schedule_id", schedule.ID,
			"stream", schedule.Stream,
			"reason", decision.Reason)
		d.metrics.ObserveExecution(string(models.ExecutionSkipped))
		d.publish(skipped, now)
		return skipped, nil
	}

	execution, err := d.store.BeginExecution(schedule.ID, scheduledTime, d.maxRetries)
	if err != nil {
		if err == ErrExecutionPending {
			d.logger.Debug("dispatch rejected, execution already pending", "schedule_id", schedule.ID)
		}
		return models.ScheduleExecution{}, err
	}
	d.metrics.PendingExecutionStarted()
	defer d.metrics.PendingExecutionResolved()

	cue, _ := models.CueTypeFor(schedule.Type)
	request := injector.CueRequest{
		Type:     schedule.Type,
		Duration: schedule.Duration,
		PreRoll:  schedule.PreRoll,
		Metadata: map[string]string{
			"scheduleId":  schedule.ID,
			"executionId": execution.ID,
		},
	}

	var eventID string
	var injectErr error
	attempts := 0
	for attempts <= execution.MaxRetries {
		attempts++
		injectCtx, cancel := context.WithTimeout(ctx, d.injectTimeout)
		eventID, injectErr = d.injector.Inject(injectCtx, schedule.Stream, request)
		cancel()
		d.metrics.ObserveInjection(string(cue))
		if injectErr == nil {
			break
		}
		d.metrics.ObserveInjectionFailure(string(cue))
		if ctx.Err() != nil {
			break
		}
	}

	result := models.ExecutionResult{Success: injectErr == nil, EventID: eventID}
	if injectErr != nil {
		result.Error = injectErr.Error()
	}
	resolved, err := d.store.ResolveExecution(execution.ID, result, attempts-1)
	if err != nil {
		// The schedule may have been deleted mid-flight, cascading the
		// execution away. Nothing left to mutate.
		d.logger.Warn("failed to resolve execution", "execution_id", execution.ID, "error", err)
		return models.ScheduleExecution{}, err
	}

	if injectErr != nil {
		d.logger.Error("cue injection failed",
			"schedule_id", schedule.ID,
			"stream", schedule.Stream,
			"attempts", attempts,
			"error", injectErr)
	} else {
		d.logger.Info("cue injected",
			"schedule_id", schedule.ID,
			"stream", schedule.Stream,
			"event_id", eventID,
			"cue", string(cue))
		if cue == models.CueOut && schedule.Duration > 0 {
			d.followups.schedule(schedule.ID, schedule.Stream, time.Duration(schedule.Duration)*time.Second)
		}
	}

	d.metrics.ObserveExecution(string(resolved.Status))
	d.publish(resolved, now)
	return resolved, nil
}

// publish hands a terminal execution to the audit feed. Feed failures are
// logged and never interfere with dispatching.
func (d *Dispatcher) publish(execution models.ScheduleExecution, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event := feed.Event{
		Kind:      feed.KindFor(execution.Status),
		Execution: execution,
		EmittedAt: now,
	}
	if err := d.feed.Publish(ctx, event); err != nil {
		d.logger.Warn("failed to publish execution event", "execution_id", execution.ID, "error", err)
	}
}
