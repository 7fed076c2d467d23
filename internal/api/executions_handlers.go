package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

// Executions lists the execution audit log, newest first. Filters: scheduleId,
// stream, status, limit.
func (h *Handler) Executions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	filter := storage.ExecutionFilter{
		ScheduleID: strings.TrimSpace(r.URL.Query().Get("scheduleId")),
		Stream:     strings.TrimSpace(r.URL.Query().Get("stream")),
		Status:     models.ExecutionStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	writeJSON(w, http.StatusOK, h.Store.ListExecutions(filter))
}

// ExecutionByID returns a single execution record.
func (h *Handler) ExecutionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/executions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("execution id missing"))
		return
	}
	execution, ok := h.Store.GetExecution(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("execution %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, execution)
}
