// Package feed publishes terminal schedule executions to external audit
// consumers (compliance reporting, billing reconciliation). The dispatcher
// treats the feed as best-effort: publish failures are logged by the caller
// and never interfere with dispatching.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

// Event is one ledger entry emitted on the feed.
type Event struct {
	Kind      string                   `json:"kind"`
	Execution models.ScheduleExecution `json:"execution"`
	EmittedAt time.Time                `json:"emittedAt"`
}

// KindFor maps a terminal execution status to its event kind.
func KindFor(status models.ExecutionStatus) string {
	return "execution." + string(status)
}

// Feed is the transport the dispatcher publishes ledger events on.
type Feed interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards all events. It is the default when no feed driver is
// configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Memory buffers events in process. Tests use it to assert what the
// dispatcher emitted.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
