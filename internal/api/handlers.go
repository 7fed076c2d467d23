package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/injector"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/registry"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

// Dispatcher is the slice of the scheduler the API depends on: manual fires
// and follow-up cancellation on schedule or stream teardown.
type Dispatcher interface {
	TriggerNow(ctx context.Context, scheduleID string) (models.ScheduleExecution, error)
	CancelSchedule(scheduleID string)
	CancelStream(stream string)
}

// Boundary is the stream control client surface used by the health endpoint.
type Boundary interface {
	Check(ctx context.Context) error
	Mode() injector.DeliveryMode
}

type Handler struct {
	Store      storage.Repository
	Registry   *registry.Registry
	Dispatcher Dispatcher
	Boundary   Boundary
	// HookToken authorizes media-server lifecycle callbacks on the publish
	// hook endpoint.
	HookToken string
	Logger    *slog.Logger
}

func NewHandler(store storage.Repository, streams *registry.Registry, dispatcher Dispatcher) *Handler {
	return &Handler{Store: store, Registry: streams, Dispatcher: dispatcher}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	DeliveryMode string            `json:"deliveryMode,omitempty"`
	Components   []componentStatus `json:"components"`
}

// Health reports datastore and boundary availability. A degraded component
// flips the overall status and the HTTP code to 503 so load balancers drain
// the instance.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(r.Context())))
	}
	response := healthResponse{Components: components}
	if h.Boundary != nil {
		components = append(components, recordComponent("boundary", h.Boundary.Check(r.Context())))
		response.Components = components
		response.DeliveryMode = string(h.Boundary.Mode())
	}
	response.Status = overallStatus
	writeJSON(w, statusCode, response)
}
