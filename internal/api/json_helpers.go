package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/registry"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func decodeJSONAllowUnknown(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// writeStoreError maps datastore and scheduler contract errors onto HTTP
// status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, storage.ErrExecutionNotFound),
		errors.Is(err, registry.ErrStreamNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, scheduler.ErrExecutionPending),
		errors.Is(err, scheduler.ErrScheduleInactive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
