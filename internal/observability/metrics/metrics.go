package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// dispatch ticks, execution outcomes, cue injections, follow-up timers, and
// stream lifecycle state. It renders Prometheus text exposition directly, so
// the service carries no scrape-client dependency.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	executionEvents   map[string]uint64
	injectionAttempts map[string]uint64
	injectionFailures map[string]uint64
	followupEvents    map[string]uint64
	streamEvents      map[string]uint64
	streamHealthValue map[string]float64
	streamHealthState map[string]string
	dispatchTicks     atomic.Uint64
	activeStreams     atomic.Int64
	pendingExecutions atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without further setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		executionEvents:   make(map[string]uint64),
		injectionAttempts: make(map[string]uint64),
		injectionFailures: make(map[string]uint64),
		followupEvents:    make(map[string]uint64),
		streamEvents:      make(map[string]uint64),
		streamHealthValue: make(map[string]float64),
		streamHealthState: make(map[string]string),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// thread a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveDispatchTick counts one dispatcher cycle.
func (r *Recorder) ObserveDispatchTick() {
	r.dispatchTicks.Add(1)
}

// DispatchTicks exposes the tick counter for tests.
func (r *Recorder) DispatchTicks() uint64 {
	return r.dispatchTicks.Load()
}

// ObserveExecution records a terminal execution outcome keyed by status
// (completed, failed, skipped).
func (r *Recorder) ObserveExecution(status string) {
	normalized := normalizeName(status)
	r.mu.Lock()
	r.executionEvents[normalized]++
	r.mu.Unlock()
}

// ExecutionCounts returns a copy of the execution outcome counters.
func (r *Recorder) ExecutionCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.executionEvents))
	for status, count := range r.executionEvents {
		counts[status] = count
	}
	return counts
}

// ObserveInjection records an outbound cue delivery attempt keyed by cue type.
func (r *Recorder) ObserveInjection(cue string) {
	normalized := normalizeName(cue)
	r.mu.Lock()
	r.injectionAttempts[normalized]++
	r.mu.Unlock()
}

// ObserveInjectionFailure records a failed cue delivery keyed by cue type.
// The caller records the attempt separately.
func (r *Recorder) ObserveInjectionFailure(cue string) {
	normalized := normalizeName(cue)
	r.mu.Lock()
	r.injectionFailures[normalized]++
	r.mu.Unlock()
}

// InjectionCounts returns copies of the attempt and failure counters.
func (r *Recorder) InjectionCounts() (attempts, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.injectionAttempts))
	for cue, count := range r.injectionAttempts {
		attempts[cue] = count
	}
	failures = make(map[string]uint64, len(r.injectionFailures))
	for cue, count := range r.injectionFailures {
		failures[cue] = count
	}
	return attempts, failures
}

// ObserveFollowup records a follow-up CUE-IN timer outcome (sent, failed,
// suppressed).
func (r *Recorder) ObserveFollowup(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.followupEvents[normalized]++
	r.mu.Unlock()
}

// FollowupCounts returns a copy of the follow-up outcome counters.
func (r *Recorder) FollowupCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.followupEvents))
	for event, count := range r.followupEvents {
		counts[event] = count
	}
	return counts
}

// PendingExecutionStarted increments the in-flight execution gauge.
func (r *Recorder) PendingExecutionStarted() {
	r.pendingExecutions.Add(1)
}

// PendingExecutionResolved decrements the in-flight execution gauge, guarding
// against going negative when resolution races startup accounting.
func (r *Recorder) PendingExecutionResolved() {
	r.decrementGauge(&r.pendingExecutions)
}

// PendingExecutions exposes the in-flight execution gauge.
func (r *Recorder) PendingExecutions() int64 {
	return r.pendingExecutions.Load()
}

// StreamStarted records a stream going live and bumps the active gauge.
func (r *Recorder) StreamStarted() {
	r.incrementStreamEvent("start")
	r.activeStreams.Add(1)
}

// StreamStopped records a stream stopping and drops the active gauge.
func (r *Recorder) StreamStopped() {
	r.incrementStreamEvent("stop")
	r.decrementGauge(&r.activeStreams)
}

// ActiveStreams exposes the current live stream gauge.
func (r *Recorder) ActiveStreams() int64 {
	return r.activeStreams.Load()
}

func (r *Recorder) incrementStreamEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.streamEvents[normalized]++
	r.mu.Unlock()
}

// SetStreamHealth stores the latest health grade for a stream, mapping the
// grade to a numeric value for export (0=good, 1=warning, 2=critical).
func (r *Recorder) SetStreamHealth(stream, health string) {
	normalizedStream := normalizeName(stream)
	normalizedHealth := normalizeName(health)
	value := 0.0
	switch normalizedHealth {
	case "warning":
		value = 1
	case "critical":
		value = 2
	}
	r.mu.Lock()
	r.streamHealthValue[normalizedStream] = value
	r.streamHealthState[normalizedStream] = normalizedHealth
	r.mu.Unlock()
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.executionEvents = make(map[string]uint64)
	r.injectionAttempts = make(map[string]uint64)
	r.injectionFailures = make(map[string]uint64)
	r.followupEvents = make(map[string]uint64)
	r.streamEvents = make(map[string]uint64)
	r.streamHealthValue = make(map[string]float64)
	r.streamHealthState = make(map[string]string)
	r.dispatchTicks.Store(0)
	r.activeStreams.Store(0)
	r.pendingExecutions.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	executionEvents := sortedKeys(r.executionEvents)
	injectionCues := r.sortedInjectionCues()
	followupEvents := sortedKeys(r.followupEvents)
	streamEvents := sortedKeys(r.streamEvents)
	healthStreams := sortedFloatKeys(r.streamHealthValue)

	fmt.Fprintln(w, "# HELP streamcontrol_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamcontrol_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamcontrol_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamcontrol_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamcontrol_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamcontrol_dispatch_ticks_total Total dispatcher cycles executed")
	fmt.Fprintln(w, "# TYPE streamcontrol_dispatch_ticks_total counter")
	fmt.Fprintf(w, "streamcontrol_dispatch_ticks_total %d\n", r.dispatchTicks.Load())

	fmt.Fprintln(w, "# HELP streamcontrol_executions_total Terminal schedule executions by status")
	fmt.Fprintln(w, "# TYPE streamcontrol_executions_total counter")
	for _, status := range executionEvents {
		fmt.Fprintf(w, "streamcontrol_executions_total{status=\"%s\"} %d\n", status, r.executionEvents[status])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_pending_executions Current number of in-flight executions")
	fmt.Fprintln(w, "# TYPE streamcontrol_pending_executions gauge")
	fmt.Fprintf(w, "streamcontrol_pending_executions %d\n", r.pendingExecutions.Load())

	fmt.Fprintln(w, "# HELP streamcontrol_injection_attempts_total Outbound cue deliveries attempted by cue type")
	fmt.Fprintln(w, "# TYPE streamcontrol_injection_attempts_total counter")
	for _, cue := range injectionCues {
		fmt.Fprintf(w, "streamcontrol_injection_attempts_total{cue=\"%s\"} %d\n", cue, r.injectionAttempts[cue])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_injection_failures_total Failed cue deliveries by cue type")
	fmt.Fprintln(w, "# TYPE streamcontrol_injection_failures_total counter")
	for _, cue := range injectionCues {
		fmt.Fprintf(w, "streamcontrol_injection_failures_total{cue=\"%s\"} %d\n", cue, r.injectionFailures[cue])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_followup_cues_total Follow-up CUE-IN timer outcomes")
	fmt.Fprintln(w, "# TYPE streamcontrol_followup_cues_total counter")
	for _, event := range followupEvents {
		fmt.Fprintf(w, "streamcontrol_followup_cues_total{outcome=\"%s\"} %d\n", event, r.followupEvents[event])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_stream_events_total Stream lifecycle events by type")
	fmt.Fprintln(w, "# TYPE streamcontrol_stream_events_total counter")
	for _, event := range streamEvents {
		fmt.Fprintf(w, "streamcontrol_stream_events_total{event=\"%s\"} %d\n", event, r.streamEvents[event])
	}

	fmt.Fprintln(w, "# HELP streamcontrol_active_streams Current number of streams marked as live")
	fmt.Fprintln(w, "# TYPE streamcontrol_active_streams gauge")
	fmt.Fprintf(w, "streamcontrol_active_streams %d\n", r.activeStreams.Load())

	fmt.Fprintln(w, "# HELP streamcontrol_stream_health Stream health by name (0=good,1=warning,2=critical)")
	fmt.Fprintln(w, "# TYPE streamcontrol_stream_health gauge")
	for _, stream := range healthStreams {
		fmt.Fprintf(w, "streamcontrol_stream_health{stream=\"%s\",state=\"%s\"} %f\n", stream, r.streamHealthState[stream], r.streamHealthValue[stream])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedInjectionCues() []string {
	seen := make(map[string]struct{}, len(r.injectionAttempts)+len(r.injectionFailures))
	for cue := range r.injectionAttempts {
		seen[cue] = struct{}{}
	}
	for cue := range r.injectionFailures {
		seen[cue] = struct{}{}
	}
	cues := make([]string, 0, len(seen))
	for cue := range seen {
		cues = append(cues, cue)
	}
	sort.Strings(cues)
	return cues
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 4
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records a request on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder over HTTP.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
