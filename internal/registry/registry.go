// Package registry tracks the identity, lifecycle, and observed health of
// live output streams. It is fed by publish lifecycle callbacks from the
// media ingest process and by metrics samples from the stream control
// boundary.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/observability/metrics"
)

// Health thresholds. A hard breach grades the stream critical, a soft breach
// warning. Bitrate deviation is measured against the target bitrate reported
// in the sample; without a target only latency applies.
const (
	criticalLatencyMs      = 5000
	warningLatencyMs       = 3000
	criticalBitrateFactor  = 2.0
	warningBitrateFactor   = 1.0
	defaultViewerFloor     = 0
	supportedOutputFormats = "hls dash srt rtmp rtsp"
)

// ErrStreamNotFound reports an unknown stream name.
var ErrStreamNotFound = errors.New("stream not found")

// Registry is an in-memory registry of live streams keyed by unique name.
// Runtime state is rebuilt from publish callbacks after a restart, so it is
// deliberately not persisted.
type Registry struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	clock   func() time.Time

	mu      sync.RWMutex
	streams map[string]models.StreamRuntime
}

// Option mutates registry configuration.
type Option func(*Registry)

// WithLogger installs a logger for lifecycle transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder for stream gauges.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(r *Registry) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithClock overrides the registry clock. Tests use it to pin timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		metrics: metrics.Default(),
		clock:   func() time.Time { return time.Now().UTC() },
		streams: make(map[string]models.StreamRuntime),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a stream in the starting state. Registering a name that
// already exists returns the existing runtime unchanged.
func (r *Registry) Register(name string, outputURLs map[string]string) (models.StreamRuntime, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.StreamRuntime{}, fmt.Errorf("stream name is required")
	}
	for format := range outputURLs {
		if !validOutputFormat(format) {
			return models.StreamRuntime{}, fmt.Errorf("unsupported output format %q", format)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.streams[trimmed]; ok {
		return existing, nil
	}
	stream := models.StreamRuntime{
		ID:         uuid.NewString(),
		Name:       trimmed,
		Status:     models.StreamStarting,
		OutputURLs: cloneURLs(outputURLs),
		Viewers:    defaultViewerFloor,
		Health:     models.HealthGood,
		StartedAt:  r.clock(),
	}
	r.streams[trimmed] = stream
	r.logger.Info("stream registered", "stream", trimmed)
	return stream, nil
}

// Unregister removes a stream from the registry entirely.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[name]; !ok {
		return ErrStreamNotFound
	}
	delete(r.streams, name)
	r.logger.Info("stream unregistered", "stream", name)
	return nil
}

// Get returns the runtime for a stream name.
func (r *Registry) Get(name string) (models.StreamRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream, ok := r.streams[name]
	if ok {
		stream.OutputURLs = cloneURLs(stream.OutputURLs)
	}
	return stream, ok
}

// List returns all known streams sorted by name.
func (r *Registry) List() []models.StreamRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	streams := make([]models.StreamRuntime, 0, len(r.streams))
	for _, stream := range r.streams {
		stream.OutputURLs = cloneURLs(stream.OutputURLs)
		streams = append(streams, stream)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Name < streams[j].Name })
	return streams
}

// HandlePublish transitions a stream to live, creating the runtime when the
// ingest process publishes a stream the registry has not seen.
func (r *Registry) HandlePublish(name string) (models.StreamRuntime, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.StreamRuntime{}, fmt.Errorf("stream name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[trimmed]
	if !ok {
		stream = models.StreamRuntime{
			ID:        uuid.NewString(),
			Name:      trimmed,
			Health:    models.HealthGood,
			StartedAt: r.clock(),
		}
	}
	if stream.Status != models.StreamLive {
		r.metrics.StreamStarted()
	}
	stream.Status = models.StreamLive
	stream.StoppedAt = nil
	r.streams[trimmed] = stream
	r.logger.Info("stream live", "stream", trimmed)
	return stream, nil
}

// HandlePublishDone transitions a stream to stopped.
func (r *Registry) HandlePublishDone(name string) (models.StreamRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[name]
	if !ok {
		return models.StreamRuntime{}, ErrStreamNotFound
	}
	if stream.Status == models.StreamLive || stream.Status == models.StreamStopping {
		r.metrics.StreamStopped()
	}
	stoppedAt := r.clock()
	stream.Status = models.StreamStopped
	stream.StoppedAt = &stoppedAt
	stream.Viewers = 0
	r.streams[name] = stream
	r.logger.Info("stream stopped", "stream", name)
	return stream, nil
}

// HandlePlay increments the viewer count for a stream.
func (r *Registry) HandlePlay(name string) (models.StreamRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[name]
	if !ok {
		return models.StreamRuntime{}, ErrStreamNotFound
	}
	stream.Viewers++
	r.streams[name] = stream
	return stream, nil
}

// HandlePlayDone decrements the viewer count, never below zero.
func (r *Registry) HandlePlayDone(name string) (models.StreamRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[name]
	if !ok {
		return models.StreamRuntime{}, ErrStreamNotFound
	}
	if stream.Viewers > 0 {
		stream.Viewers--
	}
	r.streams[name] = stream
	return stream, nil
}

// UpdateMetrics stores a metrics sample and recomputes health from scratch.
// There is no hysteresis: each sample fully determines the grade.
func (r *Registry) UpdateMetrics(name string, sample models.StreamMetrics) (models.StreamRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[name]
	if !ok {
		return models.StreamRuntime{}, ErrStreamNotFound
	}
	stream.Metrics = sample
	stream.Health = DeriveHealth(sample)
	r.streams[name] = stream
	r.metrics.SetStreamHealth(name, string(stream.Health))
	if stream.Health != models.HealthGood {
		r.logger.Warn("stream health degraded",
			"stream", name,
			"health", string(stream.Health),
			"bitrate_kbps", sample.BitrateKbps,
			"latency_ms", sample.LatencyMs)
	}
	return stream, nil
}

// DeriveHealth grades a metrics sample against the fixed thresholds.
func DeriveHealth(sample models.StreamMetrics) models.StreamHealth {
	if sample.LatencyMs > criticalLatencyMs {
		return models.HealthCritical
	}
	if sample.TargetBitrateKbps > 0 {
		deviation := float64(abs(sample.BitrateKbps - sample.TargetBitrateKbps))
		target := float64(sample.TargetBitrateKbps)
		if deviation > criticalBitrateFactor*target {
			return models.HealthCritical
		}
		if deviation > warningBitrateFactor*target {
			return models.HealthWarning
		}
	}
	if sample.LatencyMs > warningLatencyMs {
		return models.HealthWarning
	}
	return models.HealthGood
}

func validOutputFormat(format string) bool {
	normalized := strings.ToLower(strings.TrimSpace(format))
	for _, known := range strings.Fields(supportedOutputFormats) {
		if normalized == known {
			return true
		}
	}
	return false
}

func cloneURLs(urls map[string]string) map[string]string {
	if urls == nil {
		return nil
	}
	cloned := make(map[string]string, len(urls))
	for format, target := range urls {
		cloned[format] = target
	}
	return cloned
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
