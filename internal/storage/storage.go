package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
)

// errorFailureThreshold is the number of consecutive failed fires after which
// a schedule is parked in the error state and stops dispatching.
const errorFailureThreshold = 3

type dataset struct {
	Schedules  map[string]models.AdSchedule        `json:"schedules"`
	Executions map[string]models.ScheduleExecution `json:"executions"`
}

func newDataset() dataset {
	return dataset{
		Schedules:  make(map[string]models.AdSchedule),
		Executions: make(map[string]models.ScheduleExecution),
	}
}

// Storage is the JSON-file-backed datastore for schedules and their execution
// ledger. Every mutation happens under one lock and is flushed to disk with
// an atomic rename before it returns, so the on-disk snapshot never holds a
// half-applied mutation.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time
	logger   *slog.Logger
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the storage clock. Tests use it to pin timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger installs a logger for background maintenance warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	if s.data.Schedules == nil {
		s.data.Schedules = make(map[string]models.AdSchedule)
	}
	if s.data.Executions == nil {
		s.data.Executions = make(map[string]models.ScheduleExecution)
	}
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// CreateSchedule validates the parameters and inserts a new schedule. The
// first trigger time is computed from the recurrence rule relative to now;
// non-recurring schedules start with no trigger time and fire only manually.
func (s *Storage) CreateSchedule(params CreateScheduleParams) (models.AdSchedule, error) {
	if err := validateCreateScheduleParams(params); err != nil {
		return models.AdSchedule{}, err
	}

	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	schedule := models.AdSchedule{
		ID:           uuid.NewString(),
		Stream:       strings.TrimSpace(params.Stream),
		Type:         params.Type,
		Duration:     params.Duration,
		PreRoll:      params.PreRoll,
		Enabled:      enabled,
		Status:       models.ScheduleActive,
		Recurrence:   params.Recurrence,
		Restrictions: cloneRestrictions(params.Restrictions),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if next, ok := scheduler.NextFire(schedule.Recurrence, now); ok {
		schedule.NextTrigger = &next
	}
	s.data.Schedules[schedule.ID] = schedule
	if err := s.persist(); err != nil {
		delete(s.data.Schedules, schedule.ID)
		return models.AdSchedule{}, err
	}
	return cloneSchedule(schedule), nil
}

// GetSchedule returns the schedule with the given ID.
func (s *Storage) GetSchedule(id string) (models.AdSchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.data.Schedules[id]
	if !ok {
		return models.AdSchedule{}, false
	}
	return cloneSchedule(schedule), true
}

// ListSchedules returns schedules matching the filter, sorted by creation
// time then ID for a stable order.
func (s *Storage) ListSchedules(filter ScheduleFilter) []models.AdSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedules := make([]models.AdSchedule, 0, len(s.data.Schedules))
	for _, schedule := range s.data.Schedules {
		if filter.Stream != "" && schedule.Stream != filter.Stream {
			continue
		}
		if filter.Status != "" && schedule.Status != filter.Status {
			continue
		}
		if filter.Enabled != nil && schedule.Enabled != *filter.Enabled {
			continue
		}
		schedules = append(schedules, cloneSchedule(schedule))
	}
	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		}
		return schedules[i].ID < schedules[j].ID
	})
	if filter.Limit > 0 && len(schedules) > filter.Limit {
		schedules = schedules[:filter.Limit]
	}
	return schedules
}

// UpdateSchedule applies a partial mutation. Changing the recurrence rule
// recomputes the next trigger time; reactivating a parked schedule clears the
// failure streak and recomputes the trigger when none is set.
func (s *Storage) UpdateSchedule(id string, update ScheduleUpdate) (models.AdSchedule, error) {
	if err := validateScheduleUpdate(update); err != nil {
		return models.AdSchedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.data.Schedules[id]
	if !ok {
		return models.AdSchedule{}, scheduler.ErrScheduleNotFound
	}
	previous := schedule
	now := s.clock()
	applyScheduleUpdate(&schedule, update, now)

	s.data.Schedules[id] = schedule
	if err := s.persist(); err != nil {
		s.data.Schedules[id] = previous
		return models.AdSchedule{}, err
	}
	return cloneSchedule(schedule), nil
}

// DeleteSchedule removes a schedule and cascades its execution ledger.
func (s *Storage) DeleteSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Schedules[id]; !ok {
		return scheduler.ErrScheduleNotFound
	}
	removed := make(map[string]models.ScheduleExecution)
	for executionID, execution := range s.data.Executions {
		if execution.ScheduleID == id {
			removed[executionID] = execution
			delete(s.data.Executions, executionID)
		}
	}
	previous := s.data.Schedules[id]
	delete(s.data.Schedules, id)
	if err := s.persist(); err != nil {
		s.data.Schedules[id] = previous
		for executionID, execution := range removed {
			s.data.Executions[executionID] = execution
		}
		return err
	}
	return nil
}

// DueSchedules returns dispatchable schedules whose trigger time falls within
// the tolerance window after now.
func (s *Storage) DueSchedules(now time.Time, window time.Duration) []models.AdSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	horizon := now.Add(window)
	due := make([]models.AdSchedule, 0)
	for _, schedule := range s.data.Schedules {
		if !schedule.Dispatchable() || schedule.NextTrigger == nil {
			continue
		}
		if schedule.NextTrigger.After(horizon) {
			continue
		}
		due = append(due, cloneSchedule(schedule))
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextTrigger.Equal(*due[j].NextTrigger) {
			return due[i].NextTrigger.Before(*due[j].NextTrigger)
		}
		return due[i].ID < due[j].ID
	})
	return due
}
