package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

type scheduleCreateRequest struct {
	Stream       string               `json:"stream"`
	Type         models.ScheduleType  `json:"type"`
	Duration     int                  `json:"duration"`
	PreRoll      int                  `json:"preRoll"`
	Enabled      *bool                `json:"enabled"`
	Recurrence   models.Recurrence    `json:"recurrence"`
	Restrictions *models.Restrictions `json:"restrictions"`
}

type scheduleUpdateRequest struct {
	Stream            *string                `json:"stream"`
	Type              *models.ScheduleType   `json:"type"`
	Duration          *int                   `json:"duration"`
	PreRoll           *int                   `json:"preRoll"`
	Enabled           *bool                  `json:"enabled"`
	Status            *models.ScheduleStatus `json:"status"`
	Recurrence        *models.Recurrence     `json:"recurrence"`
	Restrictions      *models.Restrictions   `json:"restrictions"`
	ClearRestrictions bool                   `json:"clearRestrictions"`
}

// Schedules handles the schedule collection: POST creates, GET lists with
// optional stream, status, and enabled filters.
func (h *Handler) Schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req scheduleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		schedule, err := h.Store.CreateSchedule(storage.CreateScheduleParams{
			Stream:       req.Stream,
			Type:         req.Type,
			Duration:     req.Duration,
			PreRoll:      req.PreRoll,
			Enabled:      req.Enabled,
			Recurrence:   req.Recurrence,
			Restrictions: req.Restrictions,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		h.logger().Info("schedule created",
			"schedule_id", schedule.ID,
			"stream", schedule.Stream,
			"type", string(schedule.Type))
		writeJSON(w, http.StatusCreated, schedule)
	case http.MethodGet:
		filter := storage.ScheduleFilter{
			Stream: strings.TrimSpace(r.URL.Query().Get("stream")),
			Status: models.ScheduleStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		}
		switch strings.ToLower(r.URL.Query().Get("enabled")) {
		case "true":
			enabled := true
			filter.Enabled = &enabled
		case "false":
			enabled := false
			filter.Enabled = &enabled
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
				return
			}
			filter.Limit = limit
		}
		writeJSON(w, http.StatusOK, h.Store.ListSchedules(filter))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// ScheduleByID routes /api/schedules/{id} and /api/schedules/{id}/trigger.
func (h *Handler) ScheduleByID(w http.ResponseWriter, r *http.Request) {
	remaining := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/schedules/"), "/"), "/")
	if len(remaining) == 0 || remaining[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("schedule id missing"))
		return
	}
	id := remaining[0]

	if len(remaining) == 2 && remaining[1] == "trigger" {
		h.triggerSchedule(w, r, id)
		return
	}
	if len(remaining) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown schedule action %s", remaining[1]))
		return
	}

	switch r.Method {
	case http.MethodGet:
		schedule, ok := h.Store.GetSchedule(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("schedule %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, schedule)
	case http.MethodPut:
		h.updateSchedule(w, r, id)
	case http.MethodDelete:
		if err := h.Store.DeleteSchedule(id); err != nil {
			writeStoreError(w, err)
			return
		}
		// The break may still be open; never leave an orphaned return timer.
		h.Dispatcher.CancelSchedule(id)
		h.logger().Info("schedule deleted", "schedule_id", id)
		writeJSON(w, http.StatusNoContent, nil)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request, id string) {
	var req scheduleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	schedule, err := h.Store.UpdateSchedule(id, storage.ScheduleUpdate{
		Stream:            req.Stream,
		Type:              req.Type,
		Duration:          req.Duration,
		PreRoll:           req.PreRoll,
		Enabled:           req.Enabled,
		Status:            req.Status,
		Recurrence:        req.Recurrence,
		Restrictions:      req.Restrictions,
		ClearRestrictions: req.ClearRestrictions,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !schedule.Dispatchable() {
		h.Dispatcher.CancelSchedule(id)
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) triggerSchedule(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	execution, err := h.Dispatcher.TriggerNow(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// A denied restriction is reported in-band as a skipped execution.
	writeJSON(w, http.StatusOK, execution)
}
