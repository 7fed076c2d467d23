package storage

import (
	"context"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
)

// Repository exposes the datastore operations required by API handlers and
// the dispatcher. The embedded scheduler.Store is the dispatch-facing slice:
// due-schedule scans and the execution ledger with its single-pending gate.
type Repository interface {
	scheduler.Store

	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateSchedule(params CreateScheduleParams) (models.AdSchedule, error)
	ListSchedules(filter ScheduleFilter) []models.AdSchedule
	UpdateSchedule(id string, update ScheduleUpdate) (models.AdSchedule, error)
	DeleteSchedule(id string) error

	GetExecution(id string) (models.ScheduleExecution, bool)
	ListExecutions(filter ExecutionFilter) []models.ScheduleExecution
}

var _ Repository = (*Storage)(nil)

// Ping reports datastore availability. The JSON store is always available
// once opened.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases datastore resources. The JSON store holds none beyond the
// snapshot file, which is only open during persist.
func (s *Storage) Close(ctx context.Context) error {
	return ctx.Err()
}
